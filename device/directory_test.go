package device

import (
	"bytes"
	"testing"
)

func TestRegisterAndLookupByIMEI(t *testing.T) {
	d := New()
	addr := Addr{IP: "1.2.3.4", Port: 5027}
	var buf bytes.Buffer
	d.Register(addr, "123456789012345", &buf)

	c, ok := d.ByIMEI("123456789012345")
	if !ok || c.Addr != addr {
		t.Fatalf("expected to find connection by imei, got %+v ok=%v", c, ok)
	}
	if d.Count() != 1 {
		t.Fatalf("expected count 1, got %d", d.Count())
	}
}

func TestUnregisterRemovesBothIndexes(t *testing.T) {
	d := New()
	addr := Addr{IP: "1.2.3.4", Port: 5027}
	d.Register(addr, "123456789012345", nil)
	d.Unregister(addr)

	if _, ok := d.ByIMEI("123456789012345"); ok {
		t.Fatalf("expected imei index to be cleared after unregister")
	}
	if d.Count() != 0 {
		t.Fatalf("expected count 0 after unregister, got %d", d.Count())
	}
}

func TestUnregisterDoesNotClobberNewerRegistration(t *testing.T) {
	d := New()
	addrA := Addr{IP: "1.1.1.1", Port: 1}
	addrB := Addr{IP: "2.2.2.2", Port: 2}

	d.Register(addrA, "imei-1", nil)
	d.Register(addrB, "imei-1", nil) // same imei reconnects from a new addr
	d.Unregister(addrA)              // stale close for the old addr

	c, ok := d.ByIMEI("imei-1")
	if !ok || c.Addr != addrB {
		t.Fatalf("expected imei-1 to still resolve to addrB, got %+v ok=%v", c, ok)
	}
}
