package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"pathflow/flow"
	"pathflow/monitor"
	"pathflow/routing"
	"pathflow/service"
)

const (
	CommandPrefix = "/pathflow/commands/"
	ReportPrefix  = "/pathflow/reports/"
)

type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Endpoints:   []string{"localhost:2379"},
		DialTimeout: 5 * time.Second,
	}
}

// Command is what an out-of-process operator shell writes under
// CommandPrefix: register, unregister or enable a host pair.
type Command struct {
	Action   string    `json:"action"`
	Src      string    `json:"src"`
	Dst      string    `json:"dst"`
	IssuedAt time.Time `json:"issued_at"`
}

// ConvergenceReport is published under ReportPrefix after every enable or
// reactive reconvergence, so shells can follow outcomes without polling the
// HTTP API.
type ConvergenceReport struct {
	Src          string    `json:"src"`
	Dst          string    `json:"dst"`
	Devices      []string  `json:"devices,omitempty"`
	Weight       int       `json:"weight"`
	Succeeded    int       `json:"succeeded"`
	NotAttempted int       `json:"not_attempted"`
	Error        string    `json:"error,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Bridge connects the service to etcd: it watches operator commands and
// publishes convergence reports.
type Bridge struct {
	client *clientv3.Client
	svc    *service.Service
	wg     sync.WaitGroup
}

func NewBridge(cfg Config, svc *service.Service) (*Bridge, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating etcd client: %w", err)
	}
	return &Bridge{client: client, svc: svc}, nil
}

func (b *Bridge) Close() {
	if b.client != nil {
		b.client.Close()
	}
	b.wg.Wait()
}

// Watch processes commands under CommandPrefix until the context ends.
func (b *Bridge) Watch(ctx context.Context) {
	watchChan := b.client.Watch(ctx, CommandPrefix, clientv3.WithPrefix())
	log.Infof("etcd bridge watching %s", CommandPrefix)

	for resp := range watchChan {
		if err := resp.Err(); err != nil {
			log.Warnf("etcd watch error: %v", err)
			continue
		}
		for _, ev := range resp.Events {
			if ev.Type != clientv3.EventTypePut {
				continue
			}
			var cmd Command
			if err := json.Unmarshal(ev.Kv.Value, &cmd); err != nil {
				log.Warnf("invalid command at %s: %v", string(ev.Kv.Key), err)
				continue
			}
			b.wg.Add(1)
			go func(cmd Command) {
				defer b.wg.Done()
				b.dispatch(ctx, cmd)
			}(cmd)
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, cmd Command) {
	log.Infof("etcd command: %s %s <-> %s", cmd.Action, cmd.Src, cmd.Dst)
	switch cmd.Action {
	case "register":
		b.svc.RegisterPair(cmd.Src, cmd.Dst)
	case "unregister":
		b.svc.UnregisterPair(cmd.Src, cmd.Dst)
	case "enable":
		path, report, err := b.svc.EnableCommunication(ctx, cmd.Src, cmd.Dst)
		rep := ConvergenceReport{
			Src:         cmd.Src,
			Dst:         cmd.Dst,
			CompletedAt: time.Now(),
		}
		if err != nil {
			rep.Error = err.Error()
		} else {
			rep.Devices = path.Devices
			rep.Weight = path.Weight
			rep.Succeeded = len(report.Succeeded)
			rep.NotAttempted = len(report.NotAttempted)
			if !report.OK() {
				rep.Error = report.Failed.Err.Error()
			}
		}
		b.publish(rep)
	case "disable":
		removed, err := b.svc.DisableCommunication(ctx, cmd.Src, cmd.Dst)
		rep := ConvergenceReport{
			Src:         cmd.Src,
			Dst:         cmd.Dst,
			Succeeded:   removed,
			CompletedAt: time.Now(),
		}
		if err != nil {
			rep.Error = err.Error()
		}
		b.publish(rep)
	default:
		log.Warnf("unknown etcd command action %q", cmd.Action)
	}
}

// ReportHook adapts the monitor's report callback onto the bridge.
func (b *Bridge) ReportHook() func(monitor.Pair, routing.Path, *flow.Report) {
	return func(pair monitor.Pair, path routing.Path, report *flow.Report) {
		rep := ConvergenceReport{
			Src:          pair.Src,
			Dst:          pair.Dst,
			Devices:      path.Devices,
			Weight:       path.Weight,
			Succeeded:    len(report.Succeeded),
			NotAttempted: len(report.NotAttempted),
			CompletedAt:  time.Now(),
		}
		if !report.OK() {
			rep.Error = report.Failed.Err.Error()
		}
		b.publish(rep)
	}
}

func (b *Bridge) publish(rep ConvergenceReport) {
	data, err := json.Marshal(rep)
	if err != nil {
		log.Warnf("marshalling convergence report: %v", err)
		return
	}
	key := fmt.Sprintf("%s%s-%s/%d", ReportPrefix, rep.Src, rep.Dst, rep.CompletedAt.UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := b.client.Put(ctx, key, string(data)); err != nil {
		log.Warnf("publishing convergence report: %v", err)
		return
	}
	log.Debugf("published convergence report at %s", key)
}
