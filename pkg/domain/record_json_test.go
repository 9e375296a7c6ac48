package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRecordJSONRoundTrip(t *testing.T) {
	rec := sampleRecord()
	rec.Notes = "first run"
	rec.Smiley = Int(8)
	rec.CreatedAt = time.Date(2024, 12, 3, 10, 0, 0, 0, time.UTC)
	rec.Device = Microscope{
		Type:          "confocal",
		Name:          "LSM900",
		Magnification: []string{"20x"},
		Task: IFStaining{
			NumAntibodies: Int(2),
			Antibodies:    []Antibody{{Primary: "MAP2", Secondary: "A488"}, {Primary: "GFAP"}},
			OtherDye:      "DAPI",
		},
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded MetadataRecord
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !rec.SameContent(decoded) {
		t.Fatalf("round trip changed content:\n%s", data)
	}
	if !decoded.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("creation date lost: %v", decoded.CreatedAt)
	}
}

func TestRecordJSONWireShape(t *testing.T) {
	data, err := json.Marshal(sampleRecord())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw["experimentName"] != "exp_2024-12-03_KLee_mea-lsd-neuron" {
		t.Errorf("experimentName = %v", raw["experimentName"])
	}
	if raw["labDeviceType"] != "MEA" {
		t.Errorf("labDeviceType = %v", raw["labDeviceType"])
	}
	groups, ok := raw["influenceGroups"].(map[string]any)
	if !ok || len(groups) != 2 {
		t.Fatalf("influenceGroups = %v", raw["influenceGroups"])
	}
	second, ok := groups["influence2"].(map[string]any)
	if !ok {
		t.Fatalf("missing influence2: %v", groups)
	}
	if _, ok := second["pharmacology"]; !ok {
		t.Errorf("pharmacology missing from group 2: %v", second)
	}
}

func TestRecordJSONOrdersGroupsNumerically(t *testing.T) {
	rec := sampleRecord()
	rec.InfluenceGroups = nil
	for i := 0; i < 12; i++ {
		rec.InfluenceGroups = append(rec.InfluenceGroups, InfluenceGroup{Stimulus{Name: string(rune('a' + i))}})
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded MetadataRecord
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for i, g := range decoded.InfluenceGroups {
		if got := g.Names()[0]; got != string(rune('a'+i)) {
			t.Fatalf("group %d = %q", i, got)
		}
	}
}

func TestRecordJSONRejectsUnknownVariants(t *testing.T) {
	cases := map[string]string{
		"unknown field":       `"bogus": 1`,
		"unknown group key":   `"influenceGroups": {"group1": {"control": {"name": "c"}}}`,
		"unknown influence":   `"influenceGroups": {"influence1": {"magic": {"name": "c"}}}`,
		"unknown device":      `"labDeviceType": "Telescope"`,
		"device kind missing": `"labDeviceType": "Microscope"`,
	}
	base, err := json.Marshal(sampleRecord())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for name, field := range cases {
		t.Run(name, func(t *testing.T) {
			var raw map[string]json.RawMessage
			if err := json.Unmarshal(base, &raw); err != nil {
				t.Fatalf("decode base: %v", err)
			}
			var patch map[string]json.RawMessage
			if err := json.Unmarshal([]byte("{"+field+"}"), &patch); err != nil {
				t.Fatalf("decode patch: %v", err)
			}
			for k, v := range patch {
				raw[k] = v
			}
			doc, _ := json.Marshal(raw)
			var rec MetadataRecord
			if err := json.Unmarshal(doc, &rec); err == nil {
				t.Fatalf("expected decode error for %s", strings.TrimSpace(field))
			}
		})
	}
}

func TestSameContentIgnoresCreationDate(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	b.CreatedAt = time.Now()
	if !a.SameContent(b) {
		t.Fatalf("creation date should not affect content equality")
	}
	b.Notes = "changed"
	if a.SameContent(b) {
		t.Fatalf("notes should affect content equality")
	}
}
