package ddp

import "testing"

func TestDecideDeliverLocal(t *testing.T) {
	dg := &Datagram{DestNetwork: 2, DestNode: 7, HopCount: 0}
	ingress := LocalNetwork{Range: NetRange{Min: 2, Max: 2}, OurNode: 7}
	locals := []LocalNetwork{ingress}
	decision, _ := Decide(dg, ingress, locals, func(NetNum) NextHop { t.Fatal("lookup should not be called"); return NextHop{} })
	if decision != DeliverLocal {
		t.Fatalf("Decide() = %v, want DeliverLocal", decision)
	}
}

func TestDecideDeliverLocalAndBroadcast(t *testing.T) {
	dg := &Datagram{DestNetwork: 2, DestNode: NodeBroadcast, HopCount: 1}
	ingress := LocalNetwork{Range: NetRange{Min: 1, Max: 1}, OurNode: 5}
	locals := []LocalNetwork{ingress, {Range: NetRange{Min: 2, Max: 2}, OurNode: 7}}
	decision, _ := Decide(dg, ingress, locals, func(NetNum) NextHop { return NextHop{} })
	if decision != DeliverLocalAndBroadcast {
		t.Fatalf("Decide() = %v, want DeliverLocalAndBroadcast", decision)
	}
}

func TestDecideBroadcastAtHopLimitIsLocalOnly(t *testing.T) {
	dg := &Datagram{DestNetwork: 2, DestNode: NodeBroadcast, HopCount: MaxHopCount}
	ingress := LocalNetwork{Range: NetRange{Min: 1, Max: 1}, OurNode: 5}
	locals := []LocalNetwork{ingress, {Range: NetRange{Min: 2, Max: 2}, OurNode: 7}}
	decision, _ := Decide(dg, ingress, locals, func(NetNum) NextHop { t.Fatal("lookup should not be called"); return NextHop{} })
	if decision != DeliverLocal {
		t.Fatalf("Decide() = %v, want DeliverLocal (broadcast at hop limit must not reflood)", decision)
	}
}

func TestDecideHopLimitExceeded(t *testing.T) {
	dg := &Datagram{DestNetwork: 10, DestNode: 1, HopCount: 15}
	ingress := LocalNetwork{Range: NetRange{Min: 1, Max: 1}, OurNode: 5}
	decision, _ := Decide(dg, ingress, []LocalNetwork{ingress}, func(NetNum) NextHop {
		t.Fatal("lookup should not be called when hop limit exceeded")
		return NextHop{}
	})
	if decision != Drop {
		t.Fatalf("Decide() = %v, want Drop", decision)
	}
}

func TestDecideForwardViaNextHop(t *testing.T) {
	dg := &Datagram{DestNetwork: 10, DestNode: 1, HopCount: 0}
	ingress := LocalNetwork{Range: NetRange{Min: 1, Max: 1}, OurNode: 5}
	called := false
	decision, nh := Decide(dg, ingress, []LocalNetwork{ingress}, func(n NetNum) NextHop {
		called = true
		if n != 10 {
			t.Fatalf("lookup called with %d, want 10", n)
		}
		return NextHop{Found: true, NextNetwork: 2, NextNode: 100}
	})
	if !called {
		t.Fatal("lookup was not called")
	}
	if decision != ForwardViaNextHop || nh.NextNetwork != 2 || nh.NextNode != 100 {
		t.Fatalf("Decide() = %v, %+v, want ForwardViaNextHop to (2,100)", decision, nh)
	}
}

func TestDecideForwardDirect(t *testing.T) {
	dg := &Datagram{DestNetwork: 2, DestNode: 7, HopCount: 0}
	ingress := LocalNetwork{Range: NetRange{Min: 1, Max: 1}, OurNode: 5}
	decision, nh := Decide(dg, ingress, []LocalNetwork{ingress}, func(NetNum) NextHop {
		return NextHop{Found: true, Direct: true}
	})
	if decision != ForwardDirect || !nh.Direct {
		t.Fatalf("Decide() = %v, %+v, want ForwardDirect", decision, nh)
	}
}

func TestDecideNoRouteDrops(t *testing.T) {
	dg := &Datagram{DestNetwork: 99, DestNode: 1, HopCount: 0}
	ingress := LocalNetwork{Range: NetRange{Min: 1, Max: 1}, OurNode: 5}
	decision, _ := Decide(dg, ingress, []LocalNetwork{ingress}, func(NetNum) NextHop {
		return NextHop{Found: false}
	})
	if decision != Drop {
		t.Fatalf("Decide() = %v, want Drop", decision)
	}
}

func TestDecideSameNetworkNotForUsDrops(t *testing.T) {
	// Traffic on our own directly-connected network not addressed to us
	// or broadcast: the shared medium already delivered it (or didn't).
	dg := &Datagram{DestNetwork: 1, DestNode: 9, HopCount: 0}
	ingress := LocalNetwork{Range: NetRange{Min: 1, Max: 1}, OurNode: 5}
	decision, _ := Decide(dg, ingress, []LocalNetwork{ingress}, func(NetNum) NextHop {
		t.Fatal("lookup should not be called for same-network traffic")
		return NextHop{}
	})
	if decision != Drop {
		t.Fatalf("Decide() = %v, want Drop", decision)
	}
}
