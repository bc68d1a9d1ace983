package controller

import "fmt"

// Raw topology facts as returned by the controller's northbound REST API.
// Field shapes follow the ONOS v1 JSON; everything here is loosely typed on
// purpose and gets normalized at the topology boundary.

type DeviceFact struct {
	ID               string     `json:"id"`
	Type             string     `json:"type"`
	Available        bool       `json:"available"`
	OperationalState string     `json:"operationalState"`
	Ports            []PortFact `json:"ports"`
}

type PortFact struct {
	Port    string `json:"port"`
	Enabled bool   `json:"enabled"`
}

type HostFact struct {
	MAC         string         `json:"mac"`
	IPAddresses []string       `json:"ipAddresses"`
	Locations   []LocationFact `json:"locations"`
}

type LocationFact struct {
	ElementID string `json:"elementId"`
	Port      string `json:"port"`
}

type LinkFact struct {
	Src   EndpointFact `json:"src"`
	Dst   EndpointFact `json:"dst"`
	Type  string       `json:"type"`
	State string       `json:"state"`
}

type EndpointFact struct {
	Device string `json:"device"`
	Port   string `json:"port"`
}

// RuleSpec is a forwarding rule in the controller's flow JSON format.
// Installing the same deviceId+selector+priority again converges to one
// effective rule on the controller side.
type RuleSpec struct {
	ID          string    `json:"id,omitempty"`
	Priority    int       `json:"priority"`
	Timeout     int       `json:"timeout"`
	IsPermanent bool      `json:"isPermanent"`
	DeviceID    string    `json:"deviceId"`
	AppID       string    `json:"appId"`
	Treatment   Treatment `json:"treatment"`
	Selector    Selector  `json:"selector"`
}

type Treatment struct {
	Instructions []Instruction `json:"instructions"`
}

type Instruction struct {
	Type string `json:"type"`
	Port string `json:"port,omitempty"`
}

type Selector struct {
	Criteria []Criterion `json:"criteria"`
}

type Criterion struct {
	Type    string `json:"type"`
	MAC     string `json:"mac,omitempty"`
	EthType string `json:"ethType,omitempty"`
}

// InstallError reports a failed rule installation. Transient failures
// (timeouts, connection errors, 5xx) are eligible for retry; everything else
// aborts the remaining installs of the compiled unit.
type InstallError struct {
	DeviceID  string
	Status    int
	Transient bool
	Err       error
}

func (e *InstallError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Status > 0 {
		return fmt.Sprintf("install on %s failed (%s, status %d): %v", e.DeviceID, kind, e.Status, e.Err)
	}
	return fmt.Sprintf("install on %s failed (%s): %v", e.DeviceID, kind, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }
