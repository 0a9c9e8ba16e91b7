package core

import "testing"

func TestEventSystemDispatch(t *testing.T) {
	es := NewEventSystem()
	var got []uint32
	listener := &struct{}{}
	ok := es.Register(EVENT_CODE_RESIZED, listener, func(code SystemEventCode, sender, inst interface{}, data EventContext) bool {
		got = append(got, data.Data.U32[0], data.Data.U32[1])
		return true
	})
	if !ok {
		t.Fatal("Register\nhave false\nwant true")
	}
	if es.Register(EVENT_CODE_RESIZED, listener, func(SystemEventCode, interface{}, interface{}, EventContext) bool { return false }) {
		t.Error("duplicate Register\nhave true\nwant false")
	}

	ctx := EventContext{}
	ctx.Data.U32[0], ctx.Data.U32[1] = 1920, 1080
	if !es.Fire(EVENT_CODE_RESIZED, nil, ctx) {
		t.Error("Fire\nhave unhandled\nwant handled")
	}
	if len(got) != 2 || got[0] != 1920 || got[1] != 1080 {
		t.Errorf("payload\nhave %v\nwant [1920 1080]", got)
	}

	if !es.Unregister(EVENT_CODE_RESIZED, listener) {
		t.Error("Unregister\nhave false\nwant true")
	}
	if es.Fire(EVENT_CODE_RESIZED, nil, ctx) {
		t.Error("Fire after Unregister\nhave handled\nwant unhandled")
	}
}
