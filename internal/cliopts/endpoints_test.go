package cliopts

import "testing"

func TestConnectListParsesHostAndPort(t *testing.T) {
	var items []ConnectSpec
	l := ConnectList{Items: &items}
	if err := l.Set("json=feed.example.com/30005"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	want := ConnectSpec{Format: "json", Host: "feed.example.com", Port: "30005"}
	if items[0] != want {
		t.Errorf("got %+v, want %+v", items[0], want)
	}
}

func TestConnectListRejectsMissingHost(t *testing.T) {
	var items []ConnectSpec
	l := ConnectList{Items: &items}
	if err := l.Set("json=/30005"); err == nil {
		t.Error("expected an error for a connect spec with no host")
	}
}

func TestListenListAllowsEmptyHostForWildcardBind(t *testing.T) {
	var items []ListenSpec
	l := ListenList{Items: &items}
	if err := l.Set("raw=/30002"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if items[0].Host != "" || items[0].Port != "30002" {
		t.Errorf("got %+v", items[0])
	}
}

func TestListenListIsRepeatable(t *testing.T) {
	var items []ListenSpec
	l := ListenList{Items: &items}
	l.Set("raw=/30002")
	l.Set("beast=0.0.0.0/30005")
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}

func TestExecListKeepsWholeCommand(t *testing.T) {
	var items []ExecSpec
	l := ExecList{Items: &items}
	if err := l.Set("raw=/usr/bin/dump1090 --raw"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if items[0].Command != "/usr/bin/dump1090 --raw" {
		t.Errorf("got command %q", items[0].Command)
	}
}

func TestFileListParsesFormatAndPath(t *testing.T) {
	var items []FileSpec
	l := FileList{Items: &items}
	if err := l.Set("json=/var/log/adsbus/archive.jsonl"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if items[0].Format != "json" || items[0].Path != "/var/log/adsbus/archive.jsonl" {
		t.Errorf("got %+v", items[0])
	}
}

func TestSplitFormatValueRejectsMissingEquals(t *testing.T) {
	if _, _, err := splitFormatValue("raw"); err == nil {
		t.Error("expected an error for a spec with no '='")
	}
}
