package session

import (
	"reflect"
	"testing"
)

func TestBusHandlersRunInRegistrationOrder(t *testing.T) {
	b := NewBus()
	var got []string
	b.On("LIVE", func(name string, payload any) { got = append(got, "first") })
	b.On("LIVE", func(name string, payload any) { got = append(got, "second") })
	b.On("PREPARING", func(name string, payload any) { got = append(got, "other") })

	b.Dispatch("LIVE", nil)

	want := []string{"first", "second"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("handler order = %v, want %v", got, want)
	}
}

func TestBusWildcardSeesEveryEvent(t *testing.T) {
	b := NewBus()
	var got []string
	b.On(EventAll, func(name string, payload any) { got = append(got, name) })
	b.On("LIVE", func(name string, payload any) { got = append(got, "LIVE-direct") })

	b.Dispatch("LIVE", nil)
	b.Dispatch("DANMU_MSG", nil)

	want := []string{"LIVE-direct", "LIVE", "DANMU_MSG"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestBusDispatchWithoutHandlersIsNoOp(t *testing.T) {
	b := NewBus()
	b.Dispatch("SEND_GIFT", nil)
}
