package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestJSONBMarshal(t *testing.T) {
	j := JSONB{
		"scene_id":        "9b0c3f0e-6d3c-4a43-9a8e-2f7a4c1b5d11",
		"motion_template": "slow_push_in",
	}

	data, err := j.Value()
	if err != nil {
		t.Fatalf("failed to marshal JSONB: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data.([]byte), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["motion_template"] != "slow_push_in" {
		t.Errorf("expected motion_template=slow_push_in, got %v", result["motion_template"])
	}
}

func TestJSONBNilValueIsEmptyObject(t *testing.T) {
	var j JSONB
	data, err := j.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if string(data.([]byte)) != "{}" {
		t.Errorf("expected {}, got %s", data)
	}
}

func TestJSONBScan(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
	}{
		{"bytes", []byte(`{"scene_order": 3, "prompt": "pan"}`)},
		{"string", `{"scene_order": 3, "prompt": "pan"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var j JSONB
			if err := j.Scan(tt.value); err != nil {
				t.Fatalf("failed to scan: %v", err)
			}
			if j["scene_order"].(float64) != 3 {
				t.Errorf("expected scene_order=3, got %v", j["scene_order"])
			}
			if j.String("prompt") != "pan" {
				t.Errorf("expected prompt=pan, got %q", j.String("prompt"))
			}
		})
	}

	var j JSONB
	if err := j.Scan(42); err == nil {
		t.Error("expected error scanning an int")
	}
}

func TestRenderSceneID(t *testing.T) {
	sceneID := uuid.New()

	r := Render{InputRefs: JSONB{"scene_id": sceneID.String()}}
	got, ok := r.SceneID()
	if !ok || got != sceneID {
		t.Errorf("expected %s, got %s (ok=%v)", sceneID, got, ok)
	}

	for _, refs := range []JSONB{nil, {}, {"scene_id": "not-a-uuid"}, {"scene_id": 7}} {
		r := Render{InputRefs: refs}
		if _, ok := r.SceneID(); ok {
			t.Errorf("expected unresolved scene for refs %v", refs)
		}
	}
}

func TestVideoFormatFinalRenderType(t *testing.T) {
	if VideoFormatHorizontal.FinalRenderType() != RenderTypeFinalHorizontal {
		t.Error("16:9 should map to final_horizontal")
	}
	if VideoFormatVertical.FinalRenderType() != RenderTypeFinalVertical {
		t.Error("9:16 should map to final_vertical")
	}
	if VideoFormat("4:3").Valid() {
		t.Error("4:3 should not be valid")
	}
}

func TestRenderStatusTerminal(t *testing.T) {
	cases := map[RenderStatus]bool{
		RenderStatusQueued:  false,
		RenderStatusRunning: false,
		RenderStatusDone:    true,
		RenderStatusFailed:  true,
	}
	for status, want := range cases {
		if status.Terminal() != want {
			t.Errorf("%s: expected terminal=%v", status, want)
		}
	}
}

func TestPlaylistRoundTrip(t *testing.T) {
	order := 2
	p := NewPlaylist([]PlaylistClip{
		{RenderID: uuid.New(), SceneOrder: &order, URL: "https://cdn/a.mp4", DurationSeconds: 5},
		{RenderID: uuid.New(), URL: "https://cdn/b.mp4", DurationSeconds: 4.5},
	})
	if p.TotalDurationSeconds != 9.5 {
		t.Fatalf("expected total 9.5, got %v", p.TotalDurationSeconds)
	}

	out, err := p.EncodeOutput()
	if err != nil {
		t.Fatalf("EncodeOutput: %v", err)
	}
	if !IsPlaylistOutput(out) {
		t.Fatalf("expected marker prefix, got %q", out)
	}

	decoded, ok, err := ParsePlaylistOutput(out)
	if err != nil || !ok {
		t.Fatalf("ParsePlaylistOutput: ok=%v err=%v", ok, err)
	}
	if len(decoded.Clips) != 2 || decoded.Clips[1].URL != "https://cdn/b.mp4" {
		t.Errorf("unexpected clips: %+v", decoded.Clips)
	}
}

func TestParsePlaylistOutputPlainPath(t *testing.T) {
	p, ok, err := ParsePlaylistOutput("project/render.mp4")
	if p != nil || ok || err != nil {
		t.Errorf("expected plain path to be ignored, got %v %v %v", p, ok, err)
	}

	if _, ok, err := ParsePlaylistOutput("playlist:{broken"); !ok || err == nil {
		t.Errorf("expected marker detected with parse error, got ok=%v err=%v", ok, err)
	}
}
