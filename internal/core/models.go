// services/ess/internal/core/models.go
package core

import "time"

// WireTimeFormat is the timestamp layout used on every wire message,
// heartbeats included.
const WireTimeFormat = "2006-01-02 15:04:05"

// Category identifies one of the recognized message kinds on the station link.
type Category string

const (
	CategoryKeepalive Category = "keepalive"
	CategoryState     Category = "state"
	CategoryEvent     Category = "event"
	CategoryResponse  Category = "response"
	CategoryConfirm   Category = "confirm"
	CategoryRequest   Category = "request"
)

// Direction distinguishes topics the service subscribes to from topics it
// publishes on.
type Direction string

const (
	DirectionSubscribe Direction = "subscribe"
	DirectionPublish   Direction = "publish"
)

// CommandType is the wire function identifier of an outbound command.
type CommandType string

const (
	CommandPowerControl         CommandType = "powerCtrlReq"
	CommandOTAUpgrade           CommandType = "otaReq"
	CommandChargePowerAdjust    CommandType = "powerAdjustSetReq"
	CommandDischargePowerAdjust CommandType = "powerAdjustSetDischargeReq"
	CommandChargeRateMode       CommandType = "rateModeSetReq"
	CommandDischargeRateMode    CommandType = "dischgRateModeSetReq"
	CommandChargeSOCSet         CommandType = "chgSocSetReq"
	CommandDischargeSOCSet      CommandType = "dischgSocSetReq"
)

// powerCtrlReq dataBody "type" values.
const (
	PowerControlCharge    = 1
	PowerControlDischarge = 2
	PowerControlShutdown  = 3
)

// Inbound event function identifiers.
const (
	FunctionFaultRecord     = "faultRecord"
	FunctionChargeEvent     = "chargeEvent"
	FunctionDischargeEvent  = "dischargeEvent"
	FunctionChargeRecord    = "chargeRecord"
	FunctionDischargeRecord = "dischargeRecord"
)

// Confirmation function identifiers. The spelling is uneven on the wire;
// the station expects these exact strings.
const (
	ConfirmFaultRecord     = "faultRecordConf"
	ConfirmChargeEvent     = "chgEventConf"
	ConfirmDischargeEvent  = "dischgEventConf"
	ConfirmChargeRecord    = "chargeRecordConf"
	ConfirmDischargeRecord = "dischargeRecordConf"
)

// State snapshot slot identifiers, one per telemetry subsystem.
const (
	StatePCSInfo      = "pcsInfo"
	StatePCSState     = "pcsState"
	StateBatteryInfo  = "batInfo"
	StateBatteryState = "batState"
	StateMeterState   = "emState"
	StateSystemState  = "essState"
)

// StateFunctions lists the six snapshot slots in display order.
var StateFunctions = []string{
	StatePCSInfo,
	StatePCSState,
	StateBatteryInfo,
	StateBatteryState,
	StateMeterState,
	StateSystemState,
}

// Header is the envelope header carried by all structured messages.
// Index is a pointer so an absent index is distinguishable from index 0.
type Header struct {
	Index       *int   `json:"index,omitempty"`
	Version     string `json:"version,omitempty"`
	Function    string `json:"function,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	MessageType string `json:"messageType,omitempty"`
}

// Envelope is the header+body message format used for all non-heartbeat
// traffic. Bodies are opaque key/value data; interpretation belongs to the
// presentation layer.
type Envelope struct {
	Header   Header         `json:"header"`
	DataBody map[string]any `json:"dataBody"`
}

// EventRecord is one entry of the bounded event log.
type EventRecord struct {
	Timestamp  string         `json:"timestamp"`
	ReceivedAt time.Time      `json:"received_at"`
	Function   string         `json:"function"`
	Header     Header         `json:"header"`
	Body       map[string]any `json:"body"`
}

// TransferRecord is a completed charge or discharge session, keyed by its
// order identifier.
type TransferRecord struct {
	OrderSN     string  `json:"order_sn"`
	StartTime   string  `json:"start_time"`
	StopTime    string  `json:"stop_time"`
	EnergyKWh   float64 `json:"elect_amount"`
	TotalCost   float64 `json:"total_money"`
	StartSOC    float64 `json:"start_soc"`
	StopSOC     float64 `json:"stop_soc"`
	Duration    float64 `json:"duration"`
	RateModelID string  `json:"rate_model_id"`
	CreatedAt   string  `json:"created_at"`
}

// Pending command statuses.
const (
	CommandStatusPending   = "pending"
	CommandStatusCompleted = "completed"
)

// PendingCommand correlates an outbound command with its eventual response.
// Entries are never removed; they double as the audit trail.
type PendingCommand struct {
	Index    int            `json:"index"`
	Type     CommandType    `json:"type"`
	Params   map[string]any `json:"params"`
	IssuedAt time.Time      `json:"issued_at"`
	Status   string         `json:"status"`
	Response *Envelope      `json:"response,omitempty"`
}

// CommandLogEntry is one human-oriented line of the command history.
type CommandLogEntry struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Function  string `json:"function"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// StatusSummary is the connection summary exposed to the presentation layer.
type StatusSummary struct {
	DeviceCode           string `json:"device_code"`
	Connected            bool   `json:"connected"`
	LastHeartbeat        string `json:"last_heartbeat"`
	TopicsDerived        bool   `json:"topics_derived"`
	ChargeRecordCount    int    `json:"charge_record_count"`
	DischargeRecordCount int    `json:"discharge_record_count"`
}

// RateModelRequest carries a charge or discharge rate model. RateList and
// RateDetailsList must have matching lengths in [1,12].
type RateModelRequest struct {
	RateModelID     string `json:"rateModelID"`
	Effect          int    `json:"effect"`
	EffectDate      string `json:"effectDate"`
	RateList        []any  `json:"rateList"`
	RateDetailsList []any  `json:"rateDetailsList"`
}

// SOCLimitRequest carries a charge or discharge state-of-charge limit.
type SOCLimitRequest struct {
	DeviceCode string  `json:"deviceCode"`
	DeviceType int     `json:"deviceType"`
	Param      int     `json:"param"`
	OperType   int     `json:"operType"`
	ParamValue float64 `json:"paramValue"`
}

// PowerAdjustRequest carries a charge or discharge power adjustment.
type PowerAdjustRequest struct {
	PCSNo     string  `json:"pcsNo"`
	CtrlType  int     `json:"ctrlType"`
	CtrlParam int     `json:"ctrlParam"`
	Effect    int     `json:"effect"`
	CtrlValue float64 `json:"ctrlValue"`
}
