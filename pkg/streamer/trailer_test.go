package streamer

import "testing"

func TestParseTrailerFindsLastJSONLine(t *testing.T) {
	stdout := "starting up\nsome progress\n{\"scenario\":\"apply\",\"success\":true,\"duration_seconds\":1.5,\"context\":{\"ip\":\"10.0.0.5\"}}\n"

	tr, ok := parseTrailer(stdout)
	if !ok {
		t.Fatal("expected a trailer to be found")
	}
	if tr.Scenario != "apply" || !tr.Success || tr.DurationSeconds != 1.5 {
		t.Fatalf("unexpected trailer: %+v", tr)
	}
	if tr.Context["ip"] != "10.0.0.5" {
		t.Fatalf("unexpected context: %+v", tr.Context)
	}
}

func TestParseTrailerRejectsNonColumnZeroJSON(t *testing.T) {
	stdout := "prefix {\"scenario\":\"apply\",\"success\":true}\n"
	if _, ok := parseTrailer(stdout); ok {
		t.Fatal("expected no trailer when JSON does not start at column zero")
	}
}

func TestParseTrailerRejectsTrailingNonJSON(t *testing.T) {
	stdout := "{\"scenario\":\"apply\",\"success\":true}\nunrelated trailing line\n"
	if _, ok := parseTrailer(stdout); ok {
		t.Fatal("expected no trailer when the last non-empty line is not JSON")
	}
}

func TestParseTrailerIgnoresTrailingBlankLines(t *testing.T) {
	stdout := "{\"scenario\":\"apply\",\"success\":false,\"error\":\"boom\"}\n\n\n"
	tr, ok := parseTrailer(stdout)
	if !ok {
		t.Fatal("expected a trailer")
	}
	if tr.Success || tr.Error != "boom" {
		t.Fatalf("unexpected trailer: %+v", tr)
	}
}

func TestProjectContextFiltersUnlistedKeys(t *testing.T) {
	ctx := map[string]string{"ip": "10.0.0.5", "secret": "shh"}
	out := projectContext(ctx, []string{"ip"})
	if len(out) != 1 || out["ip"] != "10.0.0.5" {
		t.Fatalf("unexpected projected context: %+v", out)
	}
}

func TestProjectContextNilAllowListPassesThrough(t *testing.T) {
	ctx := map[string]string{"ip": "10.0.0.5"}
	out := projectContext(ctx, nil)
	if len(out) != 1 || out["ip"] != "10.0.0.5" {
		t.Fatalf("unexpected projected context: %+v", out)
	}
}
