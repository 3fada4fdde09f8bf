package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requestTopic = "100100003/0000014/M2S/request"

func decodeEnvelope(t *testing.T, payload []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	return env
}

func TestIssueWhileDisconnected(t *testing.T) {
	session, transport := newTestSession(t)

	index, err := session.IssueCommand(CommandPowerControl, map[string]any{"type": PowerControlCharge})

	assert.Equal(t, -1, index)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, transport.published)
	assert.Empty(t, session.Commands(0))
}

func TestIssueAndResponseCorrelation(t *testing.T) {
	session, transport := newTestSession(t)
	session.HandleTransportUp()
	transport.reset()

	index, err := session.IssueCommand(CommandOTAUpgrade, map[string]any{"version": "1.2.0"})
	require.NoError(t, err)
	require.Greater(t, index, 0)

	published := transport.messagesOn(requestTopic)
	require.Len(t, published, 1)
	env := decodeEnvelope(t, published[0].payload)
	require.NotNil(t, env.Header.Index)
	assert.Equal(t, index, *env.Header.Index)
	assert.Equal(t, "otaReq", env.Header.Function)
	assert.Equal(t, "1.0", env.Header.Version)

	cmd, ok := session.Command(index)
	require.True(t, ok)
	assert.Equal(t, CommandStatusPending, cmd.Status)

	deliverEnvelope(session, CategoryResponse, Envelope{
		Header:   Header{Index: intPtr(index), Function: "otaResp"},
		DataBody: map[string]any{"message": "accepted"},
	})

	cmd, ok = session.Command(index)
	require.True(t, ok)
	assert.Equal(t, CommandStatusCompleted, cmd.Status)
	require.NotNil(t, cmd.Response)
	assert.Equal(t, "accepted", cmd.Response.DataBody["message"])
}

func TestPublishFailureReturnsCodedError(t *testing.T) {
	session, transport := newTestSession(t)
	session.HandleTransportUp()
	transport.reset()
	transport.publishErr = errors.New("broker unavailable")

	index, err := session.IssueCommand(CommandOTAUpgrade, nil)
	require.Greater(t, index, 0)

	var be BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, CodeCommandPublishFailed, be.Code)
	assert.Contains(t, be.Error(), CodeCommandPublishFailed)

	// The command stays on the books for a later retry decision.
	cmd, ok := session.Command(index)
	require.True(t, ok)
	assert.Equal(t, CommandStatusPending, cmd.Status)
}

func TestMessageIndexMonotonic(t *testing.T) {
	session, _ := newTestSession(t)
	session.HandleTransportUp()

	first, err := session.IssueCommand(CommandOTAUpgrade, nil)
	require.NoError(t, err)
	second, err := session.IssueCommand(CommandOTAUpgrade, nil)
	require.NoError(t, err)

	assert.Equal(t, first+1, second)
}

func TestUnmatchedResponseIgnored(t *testing.T) {
	session, _ := newTestSession(t)
	session.HandleTransportUp()

	deliverEnvelope(session, CategoryResponse, Envelope{
		Header:   Header{Index: intPtr(999)},
		DataBody: map[string]any{"message": "stray"},
	})

	assert.Empty(t, session.Commands(0))
}

func TestResponseWithoutIndexDropped(t *testing.T) {
	session, _ := newTestSession(t)
	session.HandleTransportUp()

	deliverEnvelope(session, CategoryResponse, Envelope{
		DataBody: map[string]any{"message": "no index"},
	})

	assert.Empty(t, session.Commands(0))
}

func TestStartChargePayload(t *testing.T) {
	session, transport := newTestSession(t)
	session.HandleTransportUp()
	transport.reset()

	index, err := session.StartCharge()
	require.NoError(t, err)
	require.Greater(t, index, 0)

	published := transport.messagesOn(requestTopic)
	require.Len(t, published, 1)
	env := decodeEnvelope(t, published[0].payload)
	assert.Equal(t, string(CommandPowerControl), env.Header.Function)
	assert.EqualValues(t, PowerControlCharge, env.DataBody["type"])

	orderSN, ok := env.DataBody["orderSn"].(string)
	require.True(t, ok)
	assert.Len(t, orderSN, 14)

	history := session.CommandHistory(1)
	require.Len(t, history, 1)
	assert.Equal(t, "charge start", history[0].Label)
}

func TestShutdownReusesLastOrder(t *testing.T) {
	session, transport := newTestSession(t)
	session.HandleTransportUp()
	transport.reset()

	_, err := session.StartCharge()
	require.NoError(t, err)
	chargeEnv := decodeEnvelope(t, transport.messagesOn(requestTopic)[0].payload)
	chargeOrder := chargeEnv.DataBody["orderSn"].(string)

	transport.reset()
	_, err = session.Shutdown()
	require.NoError(t, err)

	shutdownEnv := decodeEnvelope(t, transport.messagesOn(requestTopic)[0].payload)
	assert.EqualValues(t, PowerControlShutdown, shutdownEnv.DataBody["type"])
	assert.Equal(t, "12345678"+chargeOrder, shutdownEnv.DataBody["orderSn"])
}

func TestPowerAdjustDefaults(t *testing.T) {
	session, transport := newTestSession(t)
	session.HandleTransportUp()
	transport.reset()

	_, err := session.AdjustDischargePower(PowerAdjustRequest{CtrlValue: 50})
	require.NoError(t, err)

	env := decodeEnvelope(t, transport.messagesOn(requestTopic)[0].payload)
	assert.Equal(t, string(CommandDischargePowerAdjust), env.Header.Function)
	assert.Equal(t, "-", env.DataBody["pcsNo"])
	assert.EqualValues(t, 1, env.DataBody["ctrlType"])
	assert.EqualValues(t, 1, env.DataBody["ctrlParam"])
	assert.EqualValues(t, 1, env.DataBody["effect"])
	assert.EqualValues(t, 50, env.DataBody["ctrlValue"])
}

func TestRateModelSegmentValidation(t *testing.T) {
	session, transport := newTestSession(t)
	session.HandleTransportUp()
	transport.reset()

	// Mismatched lengths are rejected before publish.
	index, err := session.SetChargeRateModel(RateModelRequest{
		RateModelID:     "RM-1",
		RateList:        []any{1, 2, 3, 4, 5},
		RateDetailsList: []any{"a", "b", "c", "d"},
	})
	assert.Equal(t, -1, index)
	assert.ErrorIs(t, err, ErrInvalidRateModel)
	assert.Empty(t, transport.published)

	// Zero segments are out of range.
	index, err = session.SetChargeRateModel(RateModelRequest{RateModelID: "RM-1"})
	assert.Equal(t, -1, index)
	assert.ErrorIs(t, err, ErrInvalidRateModel)

	// Thirteen segments are out of range.
	thirteen := make([]any, 13)
	index, err = session.SetDischargeRateModel(RateModelRequest{
		RateModelID:     "RM-1",
		RateList:        thirteen,
		RateDetailsList: thirteen,
	})
	assert.Equal(t, -1, index)
	assert.ErrorIs(t, err, ErrInvalidRateModel)

	// Matched lengths in range go out on the wire.
	index, err = session.SetDischargeRateModel(RateModelRequest{
		RateModelID:     "RM-2",
		Effect:          1,
		EffectDate:      "2026-09-01",
		RateList:        []any{0.5, 0.8},
		RateDetailsList: []any{"00:00-12:00", "12:00-24:00"},
	})
	require.NoError(t, err)
	require.Greater(t, index, 0)

	env := decodeEnvelope(t, transport.messagesOn(requestTopic)[0].payload)
	assert.Equal(t, string(CommandDischargeRateMode), env.Header.Function)
	assert.Equal(t, "RM-2", env.DataBody["rateModelID"])
}

func TestSOCLimitDefaults(t *testing.T) {
	session, transport := newTestSession(t)
	session.HandleTransportUp()
	transport.reset()

	_, err := session.SetChargeSOCLimit(SOCLimitRequest{Param: 1, ParamValue: 95})
	require.NoError(t, err)

	env := decodeEnvelope(t, transport.messagesOn(requestTopic)[0].payload)
	assert.Equal(t, string(CommandChargeSOCSet), env.Header.Function)
	assert.Equal(t, "0000014", env.DataBody["deviceCode"])
	assert.EqualValues(t, 1, env.DataBody["deviceType"])
	assert.EqualValues(t, 1, env.DataBody["operType"])
	assert.EqualValues(t, 95, env.DataBody["paramValue"])
}
