package protocol

import "encoding/json"

// Control payload bodies. These ride inside the opaque payload of a frame
// and keep the field set of the original device firmware.

// Beacon advertises a node's identity and neighbourhood for discovery.
type Beacon struct {
	Name          string   `json:"name"`
	Capabilities  uint16   `json:"caps"`
	Battery       float64  `json:"batt"`
	Firmware      string   `json:"fw"`
	Stratum       uint8    `json:"stratum"`
	Neighbors     []uint32 `json:"neighbors,omitempty"`
	SignalQuality float64  `json:"sq"`
}

// Heartbeat is the lighter periodic liveness message.
type Heartbeat struct {
	Battery       float64 `json:"batt"`
	SignalQuality float64 `json:"sq"`
	NeighborCount int     `json:"nc"`
	Stratum       uint8   `json:"stratum"`
}

// RouteRequest floods the network looking for a path to Target.
type RouteRequest struct {
	Origin   uint32 `json:"origin"`
	Target   uint32 `json:"target"`
	Sequence uint32 `json:"seq"`
}

// RouteReply answers a RouteRequest back toward its origin.
type RouteReply struct {
	Origin      uint32  `json:"origin"`
	Target      uint32  `json:"target"`
	Sequence    uint32  `json:"seq"`
	HopCount    uint8   `json:"hops"`
	Reliability float64 `json:"rel"`
}

// TimeSync carries a four-timestamp clock exchange. T1 is stamped by the
// requester, T2/T3 by the responder; T4 is the local receive time.
type TimeSyncPhase uint8

const (
	SyncRequest TimeSyncPhase = iota + 1
	SyncResponse
)

type TimeSync struct {
	Phase       TimeSyncPhase `json:"phase"`
	T1          int64         `json:"t1"`           // origin transmit, unix micros
	T2          int64         `json:"t2,omitempty"` // peer receive
	T3          int64         `json:"t3,omitempty"` // peer transmit
	Stratum     uint8         `json:"stratum"`
	Accuracy    float64       `json:"acc"`
	Reliability float64       `json:"rel"`
}

// Ack acknowledges receipt of a data message.
type Ack struct {
	MessageId uint16 `json:"id"`
}

func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
