package stage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hazyhaar/domstage/connectivity"
)

func routerStage(t *testing.T) (*Stage, *connectivity.Router) {
	t.Helper()
	s := newStage(t, withTestStore(t))
	router := connectivity.New(connectivity.WithLogger(testLogger()))
	s.RegisterConnectivity(router)
	return s, router
}

func TestConnectivityOperationsRegistered(t *testing.T) {
	_, router := routerStage(t)
	ops := router.Operations()
	want := map[string]bool{
		"domstage_select":    false,
		"domstage_capture":   false,
		"domstage_undo":      false,
		"domstage_redo":      false,
		"domstage_export":    false,
		"domstage_status":    false,
		"domstage_artifacts": false,
	}
	for _, op := range ops {
		if _, ok := want[op]; ok {
			want[op] = true
		}
	}
	for op, seen := range want {
		if !seen {
			t.Errorf("operation %s not registered", op)
		}
	}
}

func TestConnectivityCaptureFlow(t *testing.T) {
	ctx := context.Background()
	_, router := routerStage(t)

	out, err := router.Call(ctx, "domstage_select", []byte(`{"selector":"header#top h1"}`))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	var target Target
	if err := json.Unmarshal(out, &target); err != nil {
		t.Fatalf("decode target: %v", err)
	}
	if !target.Unique() {
		t.Fatalf("target = %+v", target)
	}

	out, err = router.Call(ctx, "domstage_capture", []byte(`{"property":"color","value":"red"}`))
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	var res CaptureResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("decode capture: %v", err)
	}
	if !res.Captured() {
		t.Fatalf("capture = %+v", res)
	}

	out, err = router.Call(ctx, "domstage_status", nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var r Report
	if err := json.Unmarshal(out, &r); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if r.PatchCount != 1 {
		t.Fatalf("status = %+v", r)
	}
}

func TestConnectivityExportPersist(t *testing.T) {
	ctx := context.Background()
	_, router := routerStage(t)

	if _, err := router.Call(ctx, "domstage_select", []byte(`{"selector":"header#top h1"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := router.Call(ctx, "domstage_capture", []byte(`{"property":"color","value":"red"}`)); err != nil {
		t.Fatal(err)
	}

	out, err := router.Call(ctx, "domstage_export", []byte(`{"persist":true}`))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var reply struct {
		Record struct {
			ID string `json:"id"`
		} `json:"record"`
	}
	if err := json.Unmarshal(out, &reply); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if reply.Record.ID == "" {
		t.Fatal("expected a persisted record")
	}

	out, err = router.Call(ctx, "domstage_artifacts", []byte(`{}`))
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	var records []json.RawMessage
	if err := json.Unmarshal(out, &records); err != nil {
		t.Fatalf("decode artifacts: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(records))
	}
}
