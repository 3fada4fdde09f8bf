// services/ess/internal/core/ledger.go
package core

import (
	"strconv"
	"time"
)

// eventLedger holds the bounded event log and the derived charge/discharge
// record tables. It is not safe for concurrent use; the session mutex
// serializes access.
type eventLedger struct {
	limit          int
	events         []EventRecord
	charge         map[string]*TransferRecord
	chargeOrder    []string
	discharge      map[string]*TransferRecord
	dischargeOrder []string

	// totalCost grows on every processed record event, duplicates included.
	// The billing side reconciles against it, so re-processing is visible
	// rather than silently absorbed.
	totalCost float64
}

func newEventLedger(limit int) *eventLedger {
	return &eventLedger{
		limit:     limit,
		charge:    make(map[string]*TransferRecord),
		discharge: make(map[string]*TransferRecord),
	}
}

// append adds one event, evicting the oldest first once the bound is hit.
func (l *eventLedger) append(rec EventRecord) {
	l.events = append(l.events, rec)
	if len(l.events) > l.limit {
		l.events = l.events[len(l.events)-l.limit:]
	}
}

// applyTransfer upserts the charge or discharge record carried by a record
// event. The order identifier joins the insertion-order index only on first
// sight; the stored record always reflects the latest event.
func (l *eventLedger) applyTransfer(function string, body map[string]any) (TransferRecord, bool) {
	orderSN := stringField(body, "orderSn")
	if orderSN == "" {
		return TransferRecord{}, false
	}

	rec := &TransferRecord{
		OrderSN:     orderSN,
		StartTime:   stringField(body, "startTime"),
		StopTime:    stringField(body, "stopTime"),
		EnergyKWh:   numberField(body, "electAmount"),
		TotalCost:   numberField(body, "totalMoney"),
		StartSOC:    numberField(body, "startSoc"),
		StopSOC:     numberField(body, "stopSoc"),
		Duration:    numberField(body, "chgTime"),
		RateModelID: stringField(body, "rateModelID"),
		CreatedAt:   time.Now().Format(WireTimeFormat),
	}

	switch function {
	case FunctionChargeRecord:
		if _, seen := l.charge[orderSN]; !seen {
			l.chargeOrder = append(l.chargeOrder, orderSN)
		}
		l.charge[orderSN] = rec
	case FunctionDischargeRecord:
		if _, seen := l.discharge[orderSN]; !seen {
			l.dischargeOrder = append(l.dischargeOrder, orderSN)
		}
		l.discharge[orderSN] = rec
	default:
		return TransferRecord{}, false
	}

	l.totalCost += rec.TotalCost
	return *rec, true
}

// tail returns the last count events, newest first.
func (l *eventLedger) tail(count int) []EventRecord {
	if count <= 0 || count > len(l.events) {
		count = len(l.events)
	}
	out := make([]EventRecord, 0, count)
	for i := len(l.events) - 1; i >= len(l.events)-count; i-- {
		out = append(out, l.events[i])
	}
	return out
}

func (l *eventLedger) chargeRecords(count int, orderSN string) []TransferRecord {
	return recentRecords(l.charge, l.chargeOrder, count, orderSN)
}

func (l *eventLedger) dischargeRecords(count int, orderSN string) []TransferRecord {
	return recentRecords(l.discharge, l.dischargeOrder, count, orderSN)
}

// recentRecords returns the exact match for an order identifier, or the most
// recent count records in reverse insertion order.
func recentRecords(table map[string]*TransferRecord, order []string, count int, orderSN string) []TransferRecord {
	if orderSN != "" {
		if rec, ok := table[orderSN]; ok {
			return []TransferRecord{*rec}
		}
		return []TransferRecord{}
	}

	if count <= 0 || count > len(order) {
		count = len(order)
	}
	out := make([]TransferRecord, 0, count)
	for i := len(order) - 1; i >= len(order)-count; i-- {
		if rec, ok := table[order[i]]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// stringField reads a body field as a string, tolerating numeric values the
// station occasionally sends for identifier fields.
func stringField(body map[string]any, key string) string {
	switch v := body[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// numberField reads a body field as a number, defaulting to zero.
func numberField(body map[string]any, key string) float64 {
	switch v := body[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
