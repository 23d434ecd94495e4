package hermes

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestBlendSubjectsFallUnderStream(t *testing.T) {
	for _, s := range []string{
		SubjectBlendSolved("r1"),
		SubjectBlendDeferred("r1"),
		SubjectCatalogUpdated,
		SubjectPlanCompleted,
		SubjectSheetCreated("s1"),
		SubjectSheetDeleted("s1"),
	} {
		if !strings.HasPrefix(s, "crucible.") {
			t.Errorf("subject %q outside the crucible namespace", s)
		}
		retained := false
		for _, pattern := range StreamSubjects {
			if strings.HasPrefix(s, strings.TrimSuffix(pattern, ">")) {
				retained = true
			}
		}
		if !retained {
			t.Errorf("subject %q is not retained by %s", s, StreamName)
		}
	}
	if got := SubjectBlendDeferred("abc"); got != "crucible.blend.abc.deferred" {
		t.Errorf("unexpected deferred subject %q", got)
	}
	if _, err := time.ParseDuration(StreamMaxAge); err != nil {
		t.Errorf("StreamMaxAge must parse: %v", err)
	}
}

func TestBlendDeferredEventJSON(t *testing.T) {
	data, err := json.Marshal(BlendDeferredEvent{
		RunID:      "r1",
		Channel:    "Ch1",
		Deferred:   map[string]float64{"Mg": 0.03},
		TopUpGrams: map[string]float64{"FeSiMg": 1500},
	})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"run_id", "channel", "deferred_pct", "topup_g"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
}

func TestEncode(t *testing.T) {
	msg, err := encode(SubjectCatalogUpdated, CatalogUpdatedEvent{Table: "materials", Name: "FeSi"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Subject != SubjectCatalogUpdated {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if got := msg.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("unexpected content type %q", got)
	}
	var evt CatalogUpdatedEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Table != "materials" || evt.Name != "FeSi" {
		t.Errorf("unexpected event %+v", evt)
	}

	if _, err := encode("crucible.bad", make(chan int)); err == nil {
		t.Error("expected an encode error for an unsupported value")
	}
}
