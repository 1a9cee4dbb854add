package mempool

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func testSubmission(n int) Submission {
	return Submission{
		PayloadHash: fmt.Sprintf("0xpayload%d", n),
		IntentHash:  fmt.Sprintf("0xintent%d", n),
		Payload:     []byte(fmt.Sprintf("payload-%d", n)),
		NodeName:    "node-a",
	}
}

// TestSuite runs a suite of tests against a store implementation.
func TestSuite(t *testing.T, newStore func() Store) {
	t.Helper()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Track", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		if _, err := s.TrackInitialSubmission(now, Submission{}); err != ErrMalformedSubmission {
			t.Errorf("expected malformed error, got: %v", err)
		}
		if _, err := s.Get("0xintent1"); err != ErrNotFound {
			t.Errorf("expected not found error, got: %v", err)
		}

		sub := testSubmission(1)
		g, err := s.TrackInitialSubmission(now, sub)
		if err != nil {
			t.Fatal(err)
		}
		if want := (TrackGuidance{ShouldSubmitToNode: true}); g != want {
			t.Errorf("got: %+v; want: %+v", g, want)
		}

		later := now.Add(time.Second)
		g, err = s.TrackInitialSubmission(later, sub)
		if err != nil {
			t.Fatal(err)
		}
		if want := (TrackGuidance{}); g != want {
			t.Errorf("got: %+v; want: %+v", g, want)
		}

		// Same intent, different notarization.
		renotarized := sub
		renotarized.PayloadHash = "0xpayload1b"
		g, err = s.TrackInitialSubmission(later, renotarized)
		if err != nil {
			t.Fatal(err)
		}
		if g.ShouldSubmitToNode {
			t.Error("re-notarized intent should not be submitted again")
		}

		tx, err := s.Get(sub.IntentHash)
		if err != nil {
			t.Fatal(err)
		}
		if tx.Status != StatusPending || tx.SubmissionCount != 1 || tx.LastNodeName != "node-a" {
			t.Errorf("unexpected record: %+v", tx)
		}
		if tx.PayloadHash != sub.PayloadHash {
			t.Errorf("got: %s; want: %s", tx.PayloadHash, sub.PayloadHash)
		}
		if !tx.FirstSubmittedToGateway.Equal(now) || !tx.LastSubmittedToGateway.Equal(later) {
			t.Errorf("wrong submission times: %s, %s", tx.FirstSubmittedToGateway, tx.LastSubmittedToGateway)
		}
		if string(tx.Payload) != string(sub.Payload) {
			t.Errorf("got: %q; want: %q", tx.Payload, sub.Payload)
		}
	})

	t.Run("Failed", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		if err := s.MarkAsFailed("0xintent1", ReasonUnknown, "", now); err != ErrNotFound {
			t.Errorf("expected not found error, got: %v", err)
		}

		sub := testSubmission(1)
		if _, err := s.TrackInitialSubmission(now, sub); err != nil {
			t.Fatal(err)
		}
		if err := s.MarkAsFailed(sub.IntentHash, ReasonDoubleSpend, "input already spent", now); err != nil {
			t.Fatal(err)
		}
		g, err := s.TrackInitialSubmission(now, sub)
		if err != nil {
			t.Fatal(err)
		}
		if want := (TrackGuidance{AlreadyFailedReason: ReasonDoubleSpend}); g != want {
			t.Errorf("got: %+v; want: %+v", g, want)
		}
		tx, err := s.Get(sub.IntentHash)
		if err != nil {
			t.Fatal(err)
		}
		if tx.Status != StatusFailed || tx.FailureExplanation != "input already spent" {
			t.Errorf("unexpected record: %+v", tx)
		}
	})

	t.Run("Resubmission", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		for i := 1; i <= 3; i++ {
			if _, err := s.TrackInitialSubmission(now.Add(time.Duration(i)*time.Second), testSubmission(i)); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.MarkAsFailed("0xintent2", ReasonUnknown, "", now); err != nil {
			t.Fatal(err)
		}

		pending, err := s.ListPending(0)
		if err != nil {
			t.Fatal(err)
		}
		if got := intentHashes(pending); fmt.Sprint(got) != "[0xintent1 0xintent3]" {
			t.Errorf("got: %v; want: [0xintent1 0xintent3]", got)
		}
		if pending, err := s.ListPending(1); err != nil {
			t.Fatal(err)
		} else if len(pending) != 1 || pending[0].IntentHash != "0xintent1" {
			t.Errorf("unexpected limited list: %v", intentHashes(pending))
		}

		later := now.Add(time.Minute)
		if err := s.MarkResubmitted("0xintent1", "node-b", later); err != nil {
			t.Fatal(err)
		}
		if err := s.MarkResubmitted("0xintent2", "node-b", later); err != ErrNotPending {
			t.Errorf("expected not pending error, got: %v", err)
		}
		tx, err := s.Get("0xintent1")
		if err != nil {
			t.Fatal(err)
		}
		if tx.SubmissionCount != 2 || tx.LastNodeName != "node-b" || !tx.LastSubmittedToNode.Equal(later) {
			t.Errorf("unexpected record: %+v", tx)
		}
	})

	t.Run("Committed", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		if err := s.MarkCommitted("0xintent1", 10, now); err != ErrNotFound {
			t.Errorf("expected not found error, got: %v", err)
		}
		for i := 1; i <= 3; i++ {
			if _, err := s.TrackInitialSubmission(now, testSubmission(i)); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.MarkCommitted("0xintent1", 10, now); err != nil {
			t.Fatal(err)
		}
		if err := s.MarkCommitted("0xintent2", 11, now.Add(time.Minute)); err != nil {
			t.Fatal(err)
		}
		if err := s.MarkAsFailed("0xintent3", ReasonTimeout, "", now); err != nil {
			t.Fatal(err)
		}

		stats, err := s.Stats()
		if err != nil {
			t.Fatal(err)
		}
		if want := (Stats{NumFailed: 1, NumCommitted: 2}); *stats != want {
			t.Errorf("got: %+v; want: %+v", *stats, want)
		}

		// Committed transactions report no failure on resubmission.
		g, err := s.TrackInitialSubmission(now, testSubmission(1))
		if err != nil {
			t.Fatal(err)
		}
		if g != (TrackGuidance{}) {
			t.Errorf("unexpected guidance: %+v", g)
		}

		n, err := s.PruneCommitted(now.Add(time.Second))
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("pruned %d; want 1", n)
		}
		if _, err := s.Get("0xintent1"); err != ErrNotFound {
			t.Errorf("expected pruned record, got: %v", err)
		}
		tx, err := s.Get("0xintent2")
		if err != nil {
			t.Fatal(err)
		}
		if tx.CommittedStateVersion != 11 {
			t.Errorf("got: %d; want: 11", tx.CommittedStateVersion)
		}
	})

	t.Run("ConcurrentTrack", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		const callers = 16
		sub := testSubmission(1)
		var wg sync.WaitGroup
		results := make(chan TrackGuidance, callers)
		errs := make(chan error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				g, err := s.TrackInitialSubmission(now, sub)
				if err != nil {
					errs <- err
					return
				}
				results <- g
			}()
		}
		wg.Wait()
		close(results)
		close(errs)

		for err := range errs {
			t.Errorf("unexpected error: %s", err)
		}
		numSubmit := 0
		for g := range results {
			if g.ShouldSubmitToNode {
				numSubmit++
			}
		}
		if numSubmit != 1 {
			t.Errorf("%d callers told to submit; want 1", numSubmit)
		}
	})
}

func intentHashes(txs []Transaction) []string {
	r := make([]string, 0, len(txs))
	for _, tx := range txs {
		r = append(r, tx.IntentHash)
	}
	return r
}
