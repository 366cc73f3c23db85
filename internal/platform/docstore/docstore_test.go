package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeHead struct {
	objects map[string]bool
	err     error
	lastKey string
}

func (f *fakeHead) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.lastKey = *in.Key
	if f.err != nil {
		return nil, f.err
	}
	if !f.objects[*in.Key] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestKey(t *testing.T) {
	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{"doc-1", "claims/doc-1", false},
		{"  doc-2 ", "claims/doc-2", false},
		{"", "", true},
		{"../etc/passwd", "", true},
		{"a/b", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := Key(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Key(%q) error = %v", tt.id, err)
			}
			if got != tt.want {
				t.Errorf("Key(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestS3Verifier(t *testing.T) {
	head := &fakeHead{objects: map[string]bool{"claims/doc-1": true}}
	v := NewS3Verifier(head, "claims-docs")

	if err := v.Exists(context.Background(), "doc-1"); err != nil {
		t.Errorf("expected doc-1 to exist, got %v", err)
	}
	if head.lastKey != "claims/doc-1" {
		t.Errorf("expected prefixed key, got %s", head.lastKey)
	}
	if err := v.Exists(context.Background(), "doc-2"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := v.Exists(context.Background(), "x/y"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestS3Verifier_TransportError(t *testing.T) {
	v := NewS3Verifier(&fakeHead{err: errors.New("timeout")}, "b")
	err := v.Exists(context.Background(), "doc-1")
	if err == nil || errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected a non-not-found error, got %v", err)
	}
}

func TestVerifyAll(t *testing.T) {
	store := NewMemoryStore("a", "b")
	if err := VerifyAll(context.Background(), store, []string{"a", "b"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := VerifyAll(context.Background(), store, []string{"a", "c"}); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected not found for c, got %v", err)
	}
	if err := VerifyAll(context.Background(), nil, []string{"zzz"}); err != nil {
		t.Errorf("nil verifier should accept everything, got %v", err)
	}
	if err := VerifyAll(context.Background(), NopVerifier{}, []string{"zzz"}); err != nil {
		t.Errorf("nop verifier should accept everything, got %v", err)
	}
}
