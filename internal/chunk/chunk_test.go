package chunk

import (
	"strings"
	"testing"
)

func TestOverlappingShortTextIsOneChunk(t *testing.T) {
	chunks := Overlapping("hello world", 1000, 200)
	if len(chunks) != 1 || chunks[0].Content != "hello world" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestOverlappingPrefersSentenceBoundary(t *testing.T) {
	sentence := strings.Repeat("word ", 150) + ". " + strings.Repeat("tail ", 150)
	chunks := Overlapping(sentence, 600, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if strings.HasSuffix(chunks[0].Content, "wor") {
		t.Fatalf("chunk ended mid-word: %q", chunks[0].Content)
	}
}

func TestOverlappingChunksOverlap(t *testing.T) {
	text := strings.Repeat("abcde ", 500)
	chunks := Overlapping(text, 1000, 200)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i+1 {
			t.Fatalf("expected 1-indexed chunk indices, got %+v", c)
		}
	}
}

func TestBySentenceGroupsUnderCap(t *testing.T) {
	text := "One sentence. Two sentence. Three sentence."
	chunks := BySentence(text, 1000)
	if len(chunks) != 1 {
		t.Fatalf("expected single chunk under cap, got %+v", chunks)
	}
}

func TestBySentenceFlushesWhenOverCap(t *testing.T) {
	a := strings.Repeat("a", 600) + "."
	b := strings.Repeat("b", 600) + "."
	chunks := BySentence(a+" "+b, 1000)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
}

func TestBySentenceSplitsOverlongSentenceByWords(t *testing.T) {
	longSentence := strings.Repeat("word ", 400) + "."
	chunks := BySentence(longSentence, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected the long sentence to be split into multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Content) > 100 {
			t.Fatalf("chunk exceeds cap: len=%d", len(c.Content))
		}
	}
}

func TestBySentenceEmptyTextYieldsNoChunks(t *testing.T) {
	if chunks := BySentence("", 1000); chunks != nil {
		t.Fatalf("expected nil chunks for empty text, got %+v", chunks)
	}
}
