package wire

import (
	"net"
	"testing"
)

func TestAddressEqualityAndSameHost(t *testing.T) {
	a := FromUDPAddr(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1000})
	b := FromUDPAddr(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1000})
	c := FromUDPAddr(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 2000})
	d := FromUDPAddr(&net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 1000})

	if !a.Equal(b) {
		t.Error("identical addresses should be equal")
	}
	if a.Equal(c) {
		t.Error("different ports should not be equal")
	}
	if !a.SameHost(c) {
		t.Error("SameHost should ignore port")
	}
	if a.SameHost(d) {
		t.Error("SameHost should still require matching host")
	}
}

func TestAddressRoundTripUDP(t *testing.T) {
	orig := &net.UDPAddr{IP: net.ParseIP("192.168.1.42"), Port: 33445}
	a := FromUDPAddr(orig)
	back := a.ToUDPAddr()
	if !back.IP.Equal(orig.IP) || back.Port != orig.Port {
		t.Errorf("round trip mismatch: got %v want %v", back, orig)
	}
}

func TestNonceEquality(t *testing.T) {
	n1, err := GenerateNonce()
	if err != nil {
		t.Fatal(err)
	}
	n2, err := GenerateNonce()
	if err != nil {
		t.Fatal(err)
	}
	if n1.Equal(n2) {
		t.Error("two random nonces should not be equal (astronomically unlikely collision)")
	}
	if !n1.Equal(n1) {
		t.Error("a nonce should equal itself")
	}
}

func TestClientIdentityTokenStableRecompute(t *testing.T) {
	addr := FromUDPAddr(&net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: 5000})
	nonce, _ := GenerateNonce()
	secret := []byte("server-secret")

	t1 := ComputeClientIdentityToken(addr, nonce, secret)
	t2 := ComputeClientIdentityToken(addr, nonce, secret)
	if !t1.Equal(t2) {
		t.Error("identity token must be recomputable deterministically")
	}

	otherAddr := FromUDPAddr(&net.UDPAddr{IP: net.ParseIP("1.2.3.5"), Port: 5000})
	t3 := ComputeClientIdentityToken(otherAddr, nonce, secret)
	if t1.Equal(t3) {
		t.Error("different client address should change the token")
	}
}

func TestClassify(t *testing.T) {
	isData, ctrl := Classify(0x02)
	if isData || ctrl != ControlConnectRequest {
		t.Errorf("expected control ConnectRequest, got isData=%v ctrl=%v", isData, ctrl)
	}

	isData, _ = Classify(0x80)
	if !isData {
		t.Error("high bit set should classify as connected data")
	}
}

func TestControlTypeIsApplicationInfo(t *testing.T) {
	if ControlConnectAccept.IsApplicationInfo() {
		t.Error("ConnectAccept is a core control type, not an application info packet")
	}
	if !ControlType(8).IsApplicationInfo() {
		t.Error("byte value 8 should be the first application info type")
	}
}
