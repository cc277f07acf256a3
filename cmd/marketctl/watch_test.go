package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestFeedPrinter_DropsDuplicates(t *testing.T) {
	var buf bytes.Buffer
	p := &feedPrinter{out: &buf}

	msgs := []string{
		`{"seq":1,"type":"init","ts":"1","signer":"11111111111111111111111111111111","ok":true}`,
		`{"seq":1,"type":"init","ts":"1","signer":"11111111111111111111111111111111","ok":true}`,
		`not json`,
		`{"seq":2,"type":"delist","ts":"2","signer":"11111111111111111111111111111111","ok":false,"code":6101,"error":"ListingNotFound: no live listing for the asset"}`,
	}
	for _, m := range msgs {
		p.OnMessage(context.Background(), []byte(m))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("printed %d lines; want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "rejected: ListingNotFound") {
		t.Errorf("second line = %q", lines[1])
	}
}
