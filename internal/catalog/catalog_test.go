package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding/japanese"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
)

const materialsCSV = `name,kind,C,Si,Mn,P,S,Cu,Cr,Mo,Ni,Sn,Mg,Al,Ti,V,Nb,Zn,歩留まり
鋼屑,base,0.2,0.2,0.5,,,,,,,,,,,,,,
Fe-Si,alloy,,75,,,,,,,,,,,,,,,0.9
Fe-Mn,alloy,,,78,,,,,,,,,,,,,,
`

func TestReadMaterials(t *testing.T) {
	mats, err := ReadMaterials(strings.NewReader(materialsCSV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mats) != 3 {
		t.Fatalf("expected 3 materials, got %d", len(mats))
	}
	if !mats[0].IsBase() || mats[1].IsBase() {
		t.Error("unexpected kinds")
	}
	if mats[1].Percent(alloy.Silicon) != 75 {
		t.Errorf("expected Si 75, got %f", mats[1].Percent(alloy.Silicon))
	}
	if _, ok := mats[1].Content[alloy.Carbon]; ok {
		t.Error("blank cells must be absent")
	}
	if mats[1].YieldRate() != 0.9 {
		t.Errorf("expected yield 0.9, got %f", mats[1].YieldRate())
	}
	if mats[2].YieldRate() != 1.0 {
		t.Errorf("expected default yield, got %f", mats[2].YieldRate())
	}
}

func TestReadMaterialsShiftJIS(t *testing.T) {
	enc, err := japanese.ShiftJIS.NewEncoder().String("名前,C,Si\n神鋼ＳＰ銑,4.2,0.8\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	mats, err := ReadMaterials(strings.NewReader(enc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mats) != 1 {
		t.Fatalf("expected 1 material, got %d", len(mats))
	}
	if mats[0].Name != "神鋼SP銑" {
		t.Errorf("expected normalized name, got %q", mats[0].Name)
	}
	if mats[0].Percent(alloy.Carbon) != 4.2 {
		t.Errorf("expected C 4.2, got %f", mats[0].Percent(alloy.Carbon))
	}
}

func TestReadAdditivesWithBOM(t *testing.T) {
	in := "\ufeffname,C,Si,Mg\nFe-Si-Mg,,45,5.5\nbad,x,,\n"
	adds, err := ReadAdditives(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(adds) != 2 {
		t.Fatalf("expected 2 additives, got %d", len(adds))
	}
	if adds[0].Percent(alloy.Magnesium) != 5.5 {
		t.Errorf("expected Mg 5.5, got %f", adds[0].Percent(alloy.Magnesium))
	}
	if len(adds[1].Content) != 0 {
		t.Errorf("non-numeric cells should be dropped, got %v", adds[1].Content)
	}
}

func TestReadCalibration(t *testing.T) {
	in := "Group,C,Mg,S\nA,4.5,0.08,0\nB,,0.05,\n"
	groups, err := ReadCalibration(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b, ok := groups["A"].Bound(alloy.Magnesium); !ok || b != 0.08 {
		t.Errorf("expected Mg bound 0.08, got %f %v", b, ok)
	}
	if _, ok := groups["A"].Bound(alloy.Sulfur); ok {
		t.Error("zero cell must be unbounded")
	}
	if _, ok := groups["B"].Bound(alloy.Carbon); ok {
		t.Error("blank cell must be unbounded")
	}

	if _, err := ReadCalibration(strings.NewReader("C,Mg\n1,2\n")); err == nil {
		t.Error("expected error without Group column")
	}
}

func TestReadPresets(t *testing.T) {
	in := "channel,C,Si,Mn,S\nCh1,3.6,2.4,,<0.02\nCh2,3.3,,0.6,\n"
	presets, err := ReadPresets(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(presets) != 2 {
		t.Fatalf("expected 2 presets, got %d", len(presets))
	}
	ch1 := presets[0].TargetSpec()
	want := []alloy.Element{alloy.Carbon, alloy.Silicon, alloy.Sulfur}
	if len(ch1.Selected) != len(want) {
		t.Fatalf("expected %v selected, got %v", want, ch1.Selected)
	}
	for i, e := range want {
		if ch1.Selected[i] != e {
			t.Errorf("selected[%d] = %s, want %s", i, ch1.Selected[i], e)
		}
	}
	s := ch1.Target(alloy.Sulfur)
	if s.Mode != alloy.UpperOnly || s.Value != 0.02 {
		t.Errorf("expected upper-only 0.02, got %+v", s)
	}
	if ch1.Target(alloy.Carbon).Tolerance != 0.05 {
		t.Error("expected default C tolerance")
	}
}

func TestReadEmptyTable(t *testing.T) {
	if _, err := ReadMaterials(strings.NewReader("")); err != ErrEmptyTable {
		t.Errorf("expected ErrEmptyTable, got %v", err)
	}
}

func TestNewReplacesDuplicates(t *testing.T) {
	c := New([]alloy.Material{
		{Name: "Fe-Si", Content: map[alloy.Element]float64{alloy.Silicon: 70}},
		{Name: "Fe-Mn", Content: map[alloy.Element]float64{alloy.Manganese: 78}},
		{Name: "Fe-Si", Content: map[alloy.Element]float64{alloy.Silicon: 75}},
	}, nil, nil, nil)

	mats := c.Materials()
	if len(mats) != 2 {
		t.Fatalf("expected 2 materials, got %d", len(mats))
	}
	if mats[0].Name != "Fe-Si" || mats[0].Percent(alloy.Silicon) != 75 {
		t.Errorf("expected replaced Fe-Si first, got %+v", mats[0])
	}
	if mats[0].Kind != alloy.KindAlloy {
		t.Errorf("expected default kind alloy, got %q", mats[0].Kind)
	}
}

func TestCatalogIsolatedFromInputs(t *testing.T) {
	content := map[alloy.Element]float64{alloy.Carbon: 4}
	c := New([]alloy.Material{{Name: "pig", Content: content}}, nil, nil, nil)
	content[alloy.Carbon] = 99

	m, ok := c.Material("pig")
	if !ok {
		t.Fatal("expected pig")
	}
	if m.Percent(alloy.Carbon) != 4 {
		t.Errorf("catalog must copy content, got %f", m.Percent(alloy.Carbon))
	}
}

func TestLookupNormalizesWidth(t *testing.T) {
	c := New([]alloy.Material{{Name: "神鋼SP銑"}}, []alloy.Additive{{Name: "Ｃ"}}, nil, nil)
	if _, ok := c.Material("神鋼ＳＰ銑"); !ok {
		t.Error("full-width lookup should match")
	}
	if _, ok := c.Additive(" C "); !ok {
		t.Error("additive name should be normalized")
	}
}

func TestLimitsUnknownGroup(t *testing.T) {
	c := Empty()
	if len(c.Limits("OES/X")) != 0 {
		t.Error("unknown group should be unbounded")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(MaterialsFile, materialsCSV)
	write(AdditivesFile, "name,C,Si\nC,98,\n")
	write("Calibration_upper_limit_OES.csv", "Group,Mg\nA,0.08\n")
	write("Calibration_upper_limit_XRF.csv", "Group,Mg\nA,0.06\n")
	write(PresetsFile, "channel,C\nCh1,3.6\n")

	c, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Materials()) != 3 || len(c.Additives()) != 1 {
		t.Errorf("unexpected catalog sizes %d/%d", len(c.Materials()), len(c.Additives()))
	}
	groups := c.Groups()
	if len(groups) != 2 || groups[0] != "OES/A" || groups[1] != "XRF/A" {
		t.Errorf("unexpected groups %v", groups)
	}
	if b, _ := c.Limits("XRF/A").Bound(alloy.Magnesium); b != 0.06 {
		t.Errorf("expected XRF/A Mg 0.06, got %f", b)
	}
	if _, ok := c.Preset("Ch1"); !ok {
		t.Error("expected Ch1 preset")
	}
}

func TestLoadDirMissingMaterials(t *testing.T) {
	if _, err := LoadDir(t.TempDir()); err == nil {
		t.Error("expected error when materials.csv is missing")
	}
}

func TestPresetsAndAllLimitsAreCopies(t *testing.T) {
	c := New(nil, nil,
		map[string]alloy.Limits{"OES/A": {alloy.Magnesium: 0.05}},
		[]Preset{{Channel: "Ch2"}, {Channel: "Ch1"}},
	)
	ps := c.Presets()
	if len(ps) != 2 || ps[0].Channel != "Ch1" {
		t.Errorf("expected presets ordered by channel, got %+v", ps)
	}
	all := c.AllLimits()
	all["OES/A"][alloy.Magnesium] = 1
	if b, _ := c.Limits("OES/A").Bound(alloy.Magnesium); b != 0.05 {
		t.Errorf("AllLimits must return a copy, got %f", b)
	}
}
