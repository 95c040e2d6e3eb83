// SPDX-License-Identifier: MIT

package classify

import "testing"

func TestClassifyPrecedence(t *testing.T) {
	cases := []struct {
		name    string
		message string
		ctx     Context
		want    Kind
	}{
		{"network connection refused", "Connection refused by peer", Context{}, KindNetwork},
		{"network http 404", "Server returned 404 Not Found", Context{}, KindNetwork},
		{"disk space", "No space left on device", Context{}, KindDiskSpace},
		{"process crash wins over transcoder text", "Decoder (codec h264) failed", Context{ProcessCrashed: true}, KindProcessCrash},
		{"transcoder", "Stream mapping failed for input 0", Context{}, KindTranscoder},
		{"system fallback", "something unexpected happened", Context{}, KindSystem},
		{"network takes priority over disk phrase coincidence", "Connection refused: Permission denied later", Context{}, KindNetwork},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, detail := Classify(tc.message, tc.ctx)
			if got != tc.want {
				t.Fatalf("Classify(%q) = %v, want %v (detail=%v)", tc.message, got, tc.want, detail)
			}
		})
	}
}

func TestClassifyTotality(t *testing.T) {
	messages := []string{
		"anything", "404", "Disk full", "random gibberish 12345",
	}
	for _, m := range messages {
		k, _ := Classify(m, Context{})
		switch k {
		case KindNetwork, KindDiskSpace, KindProcessCrash, KindTranscoder, KindSystem:
		default:
			t.Fatalf("Classify(%q) returned unknown kind %v", m, k)
		}
	}
}

func TestNetworkSubtypes(t *testing.T) {
	cases := map[string]string{
		"Connection refused":                    "connection_failed",
		"Server returned 403 Forbidden":          "http_error",
		"Temporary failure in name resolution":   "dns_error",
		"TLS fatal alert received":               "ssl_error",
		"Network is unreachable right now":       "general_network",
	}
	for msg, wantSubtype := range cases {
		kind, detail := Classify(msg, Context{})
		if kind != KindNetwork {
			t.Fatalf("Classify(%q) kind = %v, want NETWORK", msg, kind)
		}
		if detail["subtype"] != wantSubtype {
			t.Fatalf("Classify(%q) subtype = %v, want %v", msg, detail["subtype"], wantSubtype)
		}
	}
}
