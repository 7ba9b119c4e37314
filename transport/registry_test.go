package transport

import (
	"context"
	"reflect"
	"testing"

	"github.com/goliatone/go-crm/core"
	goerrors "github.com/goliatone/go-errors"
)

type staticAdapter struct {
	kind string
}

func (a staticAdapter) Kind() string { return a.kind }

func (a staticAdapter) Do(context.Context, core.TransportRequest) (core.TransportResponse, error) {
	return core.TransportResponse{StatusCode: 200}, nil
}

func TestRegistry_RegisterReplacesKindAndListsSorted(t *testing.T) {
	registry, err := NewRegistry(staticAdapter{kind: "rest"}, staticAdapter{kind: "JSON"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, ok := registry.Get(" Rest "); !ok {
		t.Fatalf("expected rest adapter to resolve case-insensitively")
	}
	if got := registry.Kinds(); !reflect.DeepEqual(got, []string{"json", "rest"}) {
		t.Fatalf("expected sorted kinds, got %v", got)
	}

	replacement := staticAdapter{kind: "rest"}
	if err := registry.Register(replacement); err != nil {
		t.Fatalf("replace rest adapter: %v", err)
	}
	if len(registry.Kinds()) != 2 {
		t.Fatalf("expected replacement to keep kind count, got %v", registry.Kinds())
	}
	if _, err := NewRegistry(staticAdapter{kind: " "}); err == nil {
		t.Fatalf("expected blank kind to be rejected")
	}
}

func TestRegistry_ResolveMissingKindIsInternalError(t *testing.T) {
	registry := NewDefaultRegistry(nil)
	for _, kind := range []string{KindREST, KindJSON, KindForm} {
		if _, err := registry.Resolve(kind); err != nil {
			t.Fatalf("expected %s adapter: %v", kind, err)
		}
	}

	_, err := registry.Resolve("grpc")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != ErrorTransportInternal {
		t.Fatalf("expected %s, got %s", ErrorTransportInternal, rich.TextCode)
	}
}
