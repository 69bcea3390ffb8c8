package rib

import (
	"testing"

	"github.com/tashrouter/tashrouter/pkg/ddp"
)

func TestZoneTableSetAndZonesForNetwork(t *testing.T) {
	// Scenario 4 (Section 8): ZIP reply for network 10 -> zone "Finance".
	zt := NewZoneTable()
	rng := ddp.NetRange{Min: 10, Max: 10}
	zt.Set(rng, []Name{Name("Finance")}, nil)

	entry, ok := zt.ZonesForNetwork(10)
	if !ok {
		t.Fatal("expected zone entry for network 10")
	}
	if !entry.Default.Equal(Name("Finance")) {
		t.Fatalf("Default = %q, want Finance", entry.Default)
	}
	if len(entry.Zones) != 1 || !entry.Zones[0].Equal(Name("Finance")) {
		t.Fatalf("Zones = %v, want [Finance]", entry.Zones)
	}
}

func TestZoneNameEqualCaseFolding(t *testing.T) {
	a := Name("Finance")
	b := Name("FINANCE")
	c := Name("finance")
	if !a.Equal(b) || !a.Equal(c) {
		t.Fatal("zone names should fold ASCII case")
	}
	if a.Equal(Name("Finances")) {
		t.Fatal("different zone names should not be equal")
	}
}

func TestZoneTableRemoveOnLastRouteGone(t *testing.T) {
	zt := NewZoneTable()
	rng := ddp.NetRange{Min: 10, Max: 10}
	zt.Set(rng, []Name{Name("Finance")}, nil)
	zt.Remove(rng)
	if _, ok := zt.Get(rng); ok {
		t.Fatal("zone entry should be gone after Remove")
	}
}

func TestZoneTableNetworksForZone(t *testing.T) {
	zt := NewZoneTable()
	zt.Set(ddp.NetRange{Min: 10, Max: 10}, []Name{Name("Finance")}, nil)
	zt.Set(ddp.NetRange{Min: 20, Max: 29}, []Name{Name("Finance"), Name("Engineering")}, Name("Engineering"))

	nets := zt.NetworksForZone(Name("finance"))
	if len(nets) != 2 {
		t.Fatalf("NetworksForZone(finance) = %v, want 2 ranges", nets)
	}
}

func TestZoneTableMissing(t *testing.T) {
	zt := NewZoneTable()
	zt.Set(ddp.NetRange{Min: 10, Max: 10}, []Name{Name("Finance")}, nil)

	missing := zt.Missing([]ddp.NetRange{{Min: 10, Max: 10}, {Min: 20, Max: 20}})
	if len(missing) != 1 || missing[0] != (ddp.NetRange{Min: 20, Max: 20}) {
		t.Fatalf("Missing = %+v, want [{20 20}]", missing)
	}
}
