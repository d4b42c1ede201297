package connectproxy

import "testing"

func TestDecideShutdowns(t *testing.T) {
	cases := []struct {
		name            string
		kind            failureKind
		originConnected bool
		wantClient      bool
		wantOrigin      bool
	}{
		{"setup failure before origin dialed", failureSetup, false, true, false},
		{"setup failure after origin dialed", failureSetup, true, true, true},
		{"client read failure", failureRead, true, true, true},
		{"origin write failure", failureWrite, true, true, true},
		// A read/write failure during relaying always implies the origin
		// is connected, but decideShutdowns doesn't get to assume that --
		// it should still shut both sides down even if told otherwise.
		{"read failure with no origin recorded", failureRead, false, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotClient, gotOrigin := decideShutdowns(tc.kind, tc.originConnected)
			if gotClient != tc.wantClient || gotOrigin != tc.wantOrigin {
				t.Fatalf("decideShutdowns(%v, %v) = (%v, %v), want (%v, %v)",
					tc.kind, tc.originConnected, gotClient, gotOrigin, tc.wantClient, tc.wantOrigin)
			}
		})
	}
}
