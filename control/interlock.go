package control

import "github.com/kc2g-flex-tools/flexdv/events"

func (t *Task) onInterlockStatus(params map[string]string) {
	switch params["state"] {
	case "PTT_REQUESTED":
		if t.activeSlice == noSlice || t.activeSlice != t.txSlice || params["source"] == "TUNE" {
			return
		}
		t.setTxState(events.Transmitting)
	case "UNKEY_REQUESTED":
		t.setTxState(events.EndingTx)
	case "READY":
		t.setTxState(events.Receiving)
	}
}

func (t *Task) setTxState(state TxState) {
	if state == t.txState {
		return
	}
	t.logger.Info("transmit state changed", "from", t.txState, "to", state)
	t.txState = state
	t.sink.Publish(events.TransmitStateChanged{State: state})
}
