package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *RESTClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewRESTClient(srv.URL, "onos", "rocks", 2*time.Second)
}

func TestListDevices(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/onos/v1/devices" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "onos" || pass != "rocks" {
			t.Errorf("missing or wrong basic auth")
		}
		w.Write([]byte(`{"devices":[
			{"id":"of:0000000000000001","type":"SWITCH","available":true,
			 "ports":[{"port":"1","enabled":true},{"port":"local","enabled":true}]},
			{"id":"of:0000000000000002","type":"SWITCH","available":false,"ports":[]}
		]}`))
	})

	devices, err := client.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].ID != "of:0000000000000001" || !devices[0].Available {
		t.Errorf("first device decoded wrong: %+v", devices[0])
	}
	if len(devices[0].Ports) != 2 {
		t.Errorf("expected 2 ports, got %d", len(devices[0].Ports))
	}
	if devices[1].Available {
		t.Errorf("second device must be unavailable")
	}
}

func TestListHosts(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hosts":[
			{"mac":"00:00:00:00:00:01","ipAddresses":["10.0.0.1"],
			 "locations":[{"elementId":"of:0000000000000001","port":"1"}]}
		]}`))
	})

	hosts, err := client.ListHosts(context.Background())
	if err != nil {
		t.Fatalf("ListHosts failed: %v", err)
	}
	if len(hosts) != 1 || hosts[0].MAC != "00:00:00:00:00:01" {
		t.Fatalf("hosts decoded wrong: %+v", hosts)
	}
	if hosts[0].Locations[0].ElementID != "of:0000000000000001" || hosts[0].Locations[0].Port != "1" {
		t.Errorf("location decoded wrong: %+v", hosts[0].Locations)
	}
}

func TestListLinks(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"links":[
			{"src":{"device":"of:0000000000000001","port":"2"},
			 "dst":{"device":"of:0000000000000002","port":"2"},
			 "type":"DIRECT","state":"ACTIVE"}
		]}`))
	})

	links, err := client.ListLinks(context.Background())
	if err != nil {
		t.Fatalf("ListLinks failed: %v", err)
	}
	if len(links) != 1 || links[0].Src.Device != "of:0000000000000001" || links[0].Dst.Port != "2" {
		t.Fatalf("links decoded wrong: %+v", links)
	}
}

func TestInstallRule(t *testing.T) {
	rule := RuleSpec{
		Priority:    40000,
		IsPermanent: true,
		DeviceID:    "of:0000000000000001",
		AppID:       "org.onosproject.rest",
		Treatment:   Treatment{Instructions: []Instruction{{Type: "OUTPUT", Port: "2"}}},
		Selector: Selector{Criteria: []Criterion{
			{Type: "ETH_SRC", MAC: "00:00:00:00:00:01"},
			{Type: "ETH_DST", MAC: "00:00:00:00:00:02"},
		}},
	}

	t.Run("PostsFlowJSON", func(t *testing.T) {
		var got RuleSpec
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if r.URL.Path != "/onos/v1/flows/of:0000000000000001" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decoding posted rule: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
		})

		if err := client.InstallRule(context.Background(), rule.DeviceID, rule); err != nil {
			t.Fatalf("InstallRule failed: %v", err)
		}
		if got.Priority != 40000 || !got.IsPermanent || len(got.Selector.Criteria) != 2 {
			t.Errorf("posted rule mangled: %+v", got)
		}
	})

	t.Run("ServerErrorIsTransient", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		err := client.InstallRule(context.Background(), rule.DeviceID, rule)
		var installErr *InstallError
		if !errors.As(err, &installErr) || !installErr.Transient || installErr.Status != 503 {
			t.Errorf("expected transient install error with status 503, got %v", err)
		}
	})

	t.Run("RejectionIsPermanent", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		})
		err := client.InstallRule(context.Background(), rule.DeviceID, rule)
		var installErr *InstallError
		if !errors.As(err, &installErr) || installErr.Transient {
			t.Errorf("expected permanent install error, got %v", err)
		}
	})

	t.Run("ConnectionFailureIsTransient", func(t *testing.T) {
		srv, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
		srv.Close()
		err := client.InstallRule(context.Background(), rule.DeviceID, rule)
		var installErr *InstallError
		if !errors.As(err, &installErr) || !installErr.Transient {
			t.Errorf("expected transient install error on a dead server, got %v", err)
		}
	})
}

func TestDeleteRule(t *testing.T) {
	t.Run("IssuesDelete", func(t *testing.T) {
		var gotMethod, gotPath string
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			gotMethod, gotPath = r.Method, r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		})
		if err := client.DeleteRule(context.Background(), "of:0000000000000001", "281475000000000"); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		if gotMethod != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", gotMethod)
		}
		if gotPath != "/onos/v1/flows/of:0000000000000001/281475000000000" {
			t.Errorf("unexpected path %s", gotPath)
		}
	})

	t.Run("AlreadyGoneIsSuccess", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		if err := client.DeleteRule(context.Background(), "of:0000000000000001", "1"); err != nil {
			t.Errorf("deleting a missing rule must succeed, got %v", err)
		}
	})

	t.Run("ServerErrorSurfaces", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		if err := client.DeleteRule(context.Background(), "of:0000000000000001", "1"); err == nil {
			t.Errorf("expected error on 500 response")
		}
	})
}

func TestListInstalledRules(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/onos/v1/flows/of:0000000000000001" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"flows":[{"id":"281475000000000","priority":40000,"deviceId":"of:0000000000000001"}]}`))
	})

	rules, err := client.ListInstalledRules(context.Background(), "of:0000000000000001")
	if err != nil {
		t.Fatalf("ListInstalledRules failed: %v", err)
	}
	if len(rules) != 1 || rules[0].Priority != 40000 {
		t.Fatalf("rules decoded wrong: %+v", rules)
	}
}
