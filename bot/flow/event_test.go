package flow

import (
	"testing"

	"github.com/karwa/bannerbot/bot/session"
)

func TestDecodeButton(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		payload string
		want    Button
		wantErr bool
	}{
		{"ascii start", KeyStartASCII, "", Button{Action: BtnStartASCII}, false},
		{"aspect banner", KeyAspect, "3:1", Button{Action: BtnAspect, Ratio: session.RatioBanner3x1}, false},
		{"aspect square", KeyAspect, "1:1", Button{Action: BtnAspect, Ratio: session.RatioSquare1x1}, false},
		{"aspect junk", KeyAspect, "16:9", Button{}, true},
		{"remove pick", KeyAdminRemovePick, "555", Button{Action: BtnAdminRemovePick, TargetID: 555}, false},
		{"remove pick junk", KeyAdminRemovePick, "abc", Button{}, true},
		{"users default page", KeyAdminUsers, "", Button{Action: BtnAdminUsers}, false},
		{"users page", KeyAdminUsers, "3", Button{Action: BtnAdminUsers, Page: 3}, false},
		{"help main", KeyHelp, "", Button{Action: BtnHelp, Topic: HelpMain}, false},
		{"help topic", KeyHelp, "enhance", Button{Action: BtnHelp, Topic: HelpEnhance}, false},
		{"help junk", KeyHelp, "whatever", Button{}, true},
		{"unknown key", "mystery", "", Button{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeButton(tc.key, tc.payload)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("want error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeButton: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestCallbackKeysDecode(t *testing.T) {
	// Every registered key must decode with a representative payload.
	payloads := map[string]string{
		KeyAspect:             "3:1",
		KeyAdminRemovePick:    "1",
		KeyAdminRemoveConfirm: "1",
	}
	for _, key := range CallbackKeys() {
		if _, err := DecodeButton(key, payloads[key]); err != nil {
			t.Errorf("key %q does not decode: %v", key, err)
		}
	}
}
