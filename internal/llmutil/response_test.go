package llmutil_test

import (
	"testing"

	"github.com/spmedge/pipeline/internal/llmutil"
	"google.golang.org/genai"
)

func candidateResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestExtractText_ConcatenatesParts(t *testing.T) {
	resp := candidateResponse(genai.NewPartFromText("hello "), genai.NewPartFromText("world"))
	if got := llmutil.ExtractText(resp); got != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
}

func TestExtractText_NilResponse(t *testing.T) {
	if got := llmutil.ExtractText(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestExtractText_NoCandidates(t *testing.T) {
	resp := &genai.GenerateContentResponse{}
	if got := llmutil.ExtractText(resp); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestExtractContent_TextPassthrough(t *testing.T) {
	resp := candidateResponse(genai.NewPartFromText("hello world"))
	if got := llmutil.ExtractContent(resp); got != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
}

func TestExtractContent_ImageAsDataURI(t *testing.T) {
	imgData := []byte{0x89, 0x50, 0x4E, 0x47}
	resp := candidateResponse(&genai.Part{InlineData: &genai.Blob{Data: imgData, MIMEType: "image/png"}})
	got := llmutil.ExtractContent(resp)
	want := "data:image/png;base64,iVBOR"
	if len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("got %q, want prefix %q", got, want)
	}
}

func TestExtractContent_MixedPartsJoinedWithNewline(t *testing.T) {
	resp := candidateResponse(
		genai.NewPartFromText("caption"),
		&genai.Part{InlineData: &genai.Blob{Data: []byte("x"), MIMEType: "image/png"}},
	)
	got := llmutil.ExtractContent(resp)
	if got != "caption\ndata:image/png;base64,eA==" {
		t.Errorf("unexpected result: %q", got)
	}
}
