package runctx

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/nvandessel/rmpgen/internal/locmap"
	"github.com/nvandessel/rmpgen/internal/models"
)

func testMap(t *testing.T) *locmap.Map {
	t.Helper()
	m, err := locmap.Build(
		strings.NewReader("id\n1\n2\n"),
		strings.NewReader("1,2\n"),
		strings.NewReader("id,p\n1,0.5\n"),
	)
	if err != nil {
		t.Fatalf("locmap.Build() error = %v", err)
	}
	return m
}

func TestNew_InitialSlots(t *testing.T) {
	m := testMap(t)
	rc := New(Shared{BaseDir: "/data", LocationMap: m, Props: map[string]string{"K": "v"}}, 2, 42)

	if rc.Index != 2 || rc.Seed != 42 {
		t.Errorf("Index, Seed = %d, %d, want 2, 42", rc.Index, rc.Seed)
	}
	// The location map is shared, not copied.
	if rc.LocationMap != m {
		t.Error("LocationMap is not the shared map")
	}
	if !rc.Has(SlotBaseDir) || !rc.Has(SlotLocationMap) {
		t.Error("initial slots not filled")
	}
	if rc.Has(SlotIndividualStats) {
		t.Error("optional slot filled without being requested")
	}
	if rc.IndividualStats != nil || rc.ExtraPartnersSought != nil {
		t.Error("optional slots allocated without being requested")
	}
}

func TestNew_OptionalSlotsOnDemand(t *testing.T) {
	rc := New(Shared{BaseDir: "/data"}, 0, 1, SlotIndividualStats, SlotExtraPartnersSought)

	if err := rc.Require(SlotIndividualStats, SlotExtraPartnersSought); err != nil {
		t.Fatalf("Require() error = %v", err)
	}
	if err := rc.RecordIndividualStat(7, 3); err != nil {
		t.Fatalf("RecordIndividualStat() error = %v", err)
	}
	if err := rc.AddExtraPartnerSought(1, 2, 3); err != nil {
		t.Fatalf("AddExtraPartnerSought() error = %v", err)
	}
	if got := rc.IndividualStats[7]; !reflect.DeepEqual(got, []int{3}) {
		t.Errorf("IndividualStats[7] = %v", got)
	}
	if !reflect.DeepEqual(rc.ExtraPartnersSought, [][]int{{1, 2, 3}}) {
		t.Errorf("ExtraPartnersSought = %v", rc.ExtraPartnersSought)
	}
}

func TestRequire_ReportsMissingSlots(t *testing.T) {
	rc := New(Shared{}, 0, 1)
	err := rc.Require(SlotBaseDir, SlotLocationMap)
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("Require() error = %v, want configuration error", err)
	}
	for _, want := range []string{"base-dir", "location-map"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Require() error %q should mention %s", err, want)
		}
	}

	if err := rc.RecordIndividualStat(1, 1); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("RecordIndividualStat() error = %v", err)
	}
	if err := rc.AddExtraPartnerSought(1); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("AddExtraPartnerSought() error = %v", err)
	}
}

func TestProps_ArePrivatePerRun(t *testing.T) {
	shared := Shared{Props: map[string]string{"K": "shared"}}
	a := New(shared, 0, 1)
	b := New(shared, 1, 2)

	a.SetProp("K", "a")
	if v, _ := b.Prop("K"); v != "shared" {
		t.Errorf("other run sees K = %q", v)
	}
	if shared.Props["K"] != "shared" {
		t.Errorf("shared props changed to %q", shared.Props["K"])
	}
}

func TestPublishArtifacts(t *testing.T) {
	rc := New(Shared{}, 0, 1)
	if rc.Has(ArtifactSlot(models.StageDemographic)) {
		t.Fatal("artifact slot filled before publishing")
	}

	rc.PublishArtifacts(models.StageDemographic, "pop.csv")
	rc.PublishArtifacts(models.StageDemographic, "mobility.csv")

	if !rc.Has(ArtifactSlot(models.StageDemographic)) {
		t.Error("artifact slot not filled after publishing")
	}
	if got := rc.Artifacts(models.StageDemographic); !reflect.DeepEqual(got, []string{"pop.csv", "mobility.csv"}) {
		t.Errorf("Artifacts() = %v", got)
	}
	if s := ArtifactSlot(models.StageDemographic); s != "demographic-artifacts" {
		t.Errorf("ArtifactSlot() = %q", s)
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	rc := New(Shared{BaseDir: "/d", Props: map[string]string{"A": "1"}}, 0, 5, SlotIndividualStats)
	if err := rc.RecordIndividualStat(1, 10); err != nil {
		t.Fatalf("RecordIndividualStat() error = %v", err)
	}
	before := rc.Snapshot()

	rc.SetProp("A", "2")
	if err := rc.RecordIndividualStat(1, 11); err != nil {
		t.Fatalf("RecordIndividualStat() error = %v", err)
	}
	rc.PublishArtifacts(models.StageContactMap, "cmap.csv")

	if before.Props["A"] != "1" {
		t.Errorf("snapshot prop A = %q", before.Props["A"])
	}
	if !reflect.DeepEqual(before.IndividualStats[1], []int{10}) {
		t.Errorf("snapshot stats = %v", before.IndividualStats[1])
	}
	if len(before.Artifacts) != 0 {
		t.Errorf("snapshot artifacts = %v", before.Artifacts)
	}
	if reflect.DeepEqual(before, rc.Snapshot()) {
		t.Error("snapshot tracked later changes")
	}
}

func TestIsOptional(t *testing.T) {
	tests := map[Slot]bool{
		SlotIndividualStats:     true,
		SlotExtraPartnersSought: true,
		SlotBaseDir:             false,
	}
	for s, want := range tests {
		if got := IsOptional(s); got != want {
			t.Errorf("IsOptional(%s) = %v, want %v", s, got, want)
		}
	}
}

func TestParseSlot(t *testing.T) {
	for _, name := range []string{"base-dir", "Location-Map", " individual-stats ", "extra-partners-sought", "contact-map-artifacts"} {
		s, err := ParseSlot(name)
		if err != nil {
			t.Errorf("ParseSlot(%q) error = %v", name, err)
			continue
		}
		if want := strings.ToLower(strings.TrimSpace(name)); string(s) != want {
			t.Errorf("ParseSlot(%q) = %q, want %q", name, s, want)
		}
	}

	if _, err := ParseSlot("households"); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("ParseSlot(households) error = %v", err)
	}
}
