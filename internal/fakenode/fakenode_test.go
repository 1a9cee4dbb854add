package fakenode

import (
	"context"
	"reflect"
	"testing"
)

func TestFakeNode(t *testing.T) {
	n := Node("localnet", 42)
	status, err := n.NetworkStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.StateVersion != 42 {
		t.Errorf("got: %d; want: 42", status.StateVersion)
	}

	expected := Calls{
		Call("NetworkStatus"),
	}
	if !reflect.DeepEqual(n.Calls, expected) {
		t.Errorf("got: %v; want: %v", n.Calls, expected)
	}
}

func TestFakeNodeMempool(t *testing.T) {
	n := Node("localnet", 1)
	payload := Payload("localnet", 7)

	r, err := n.SubmitTransaction(context.Background(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if r.Duplicate {
		t.Error("first submission reported as duplicate")
	}
	r, err = n.SubmitTransaction(context.Background(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Duplicate {
		t.Error("second submission not reported as duplicate")
	}
	if got, want := n.NumCalls("SubmitTransaction"), 2; got != want {
		t.Errorf("got: %d; want: %d", got, want)
	}
}

func TestFakeNodeStatusHang(t *testing.T) {
	n := Node("localnet", 1)
	n.StatusHang = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := n.NetworkStatus(ctx); err != context.Canceled {
		t.Errorf("got: %v; want: %v", err, context.Canceled)
	}
}
