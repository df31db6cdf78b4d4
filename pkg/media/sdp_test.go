package media

import (
	"errors"
	"strings"
	"testing"
)

func TestBuildOffer(t *testing.T) {
	body, err := BuildOffer(DefaultOfferConfig("192.0.2.1", 10000))
	if err != nil {
		t.Fatalf("BuildOffer: %v", err)
	}

	sdp := string(body)
	for _, want := range []string{
		"v=0",
		"c=IN IP4 192.0.2.1",
		"m=audio 10000 RTP/AVP 0 8",
		"a=rtpmap:0 PCMU/8000",
		"a=rtpmap:8 PCMA/8000",
		"a=ptime:20",
		"a=sendrecv",
	} {
		if !strings.Contains(sdp, want) {
			t.Errorf("offer missing %q:\n%s", want, sdp)
		}
	}
}

func TestBuildOffer_SingleCodec(t *testing.T) {
	cfg := DefaultOfferConfig("192.0.2.1", 10000)
	cfg.Codecs = []Codec{CodecPCMA}

	body, err := BuildOffer(cfg)
	if err != nil {
		t.Fatalf("BuildOffer: %v", err)
	}

	sdp := string(body)
	if !strings.Contains(sdp, "m=audio 10000 RTP/AVP 8") {
		t.Errorf("expected PCMA only m-line:\n%s", sdp)
	}
	if strings.Contains(sdp, "PCMU") {
		t.Errorf("PCMU should not be offered:\n%s", sdp)
	}
}

func TestBuildOffer_InvalidAddress(t *testing.T) {
	if _, err := BuildOffer(OfferConfig{Host: "", Port: 10000}); err == nil {
		t.Error("expected error for empty host")
	}
	if _, err := BuildOffer(OfferConfig{Host: "192.0.2.1", Port: 0}); err == nil {
		t.Error("expected error for zero port")
	}
}

func TestParseAnswer(t *testing.T) {
	answer := strings.Join([]string{
		"v=0",
		"o=- 123 123 IN IP4 198.51.100.5",
		"s=answer",
		"c=IN IP4 198.51.100.5",
		"t=0 0",
		"m=audio 20002 RTP/AVP 0",
		"a=rtpmap:0 PCMU/8000",
		"a=sendrecv",
		"",
	}, "\r\n")

	desc, err := ParseAnswer([]byte(answer), nil)
	if err != nil {
		t.Fatalf("ParseAnswer: %v", err)
	}
	if desc.Codec != CodecPCMU || desc.PayloadType != 0 {
		t.Errorf("codec = %v/%d, want PCMU/0", desc.Codec, desc.PayloadType)
	}
	if desc.RemoteAddr != "198.51.100.5" {
		t.Errorf("RemoteAddr = %q", desc.RemoteAddr)
	}
	if desc.RemotePort != 20002 {
		t.Errorf("RemotePort = %d", desc.RemotePort)
	}
}

func TestParseAnswer_MediaLevelConnection(t *testing.T) {
	answer := strings.Join([]string{
		"v=0",
		"o=- 123 123 IN IP4 198.51.100.5",
		"s=answer",
		"c=IN IP4 198.51.100.5",
		"t=0 0",
		"m=audio 20002 RTP/AVP 8",
		"c=IN IP4 203.0.113.9",
		"a=rtpmap:8 PCMA/8000",
		"",
	}, "\r\n")

	desc, err := ParseAnswer([]byte(answer), []Codec{CodecPCMU, CodecPCMA})
	if err != nil {
		t.Fatalf("ParseAnswer: %v", err)
	}
	if desc.Codec != CodecPCMA {
		t.Errorf("codec = %v, want PCMA", desc.Codec)
	}
	// c= на уровне media имеет приоритет над session уровнем
	if desc.RemoteAddr != "203.0.113.9" {
		t.Errorf("RemoteAddr = %q, want media-level address", desc.RemoteAddr)
	}
}

func TestParseAnswer_NoAudio(t *testing.T) {
	answer := strings.Join([]string{
		"v=0",
		"o=- 123 123 IN IP4 198.51.100.5",
		"s=answer",
		"c=IN IP4 198.51.100.5",
		"t=0 0",
		"m=video 20004 RTP/AVP 96",
		"",
	}, "\r\n")

	_, err := ParseAnswer([]byte(answer), nil)
	if !errors.Is(err, ErrNoAudioMedia) {
		t.Errorf("err = %v, want ErrNoAudioMedia", err)
	}
}

func TestParseAnswer_NoCommonCodec(t *testing.T) {
	answer := strings.Join([]string{
		"v=0",
		"o=- 123 123 IN IP4 198.51.100.5",
		"s=answer",
		"c=IN IP4 198.51.100.5",
		"t=0 0",
		"m=audio 20002 RTP/AVP 18",
		"a=rtpmap:18 G729/8000",
		"",
	}, "\r\n")

	_, err := ParseAnswer([]byte(answer), []Codec{CodecPCMU})
	if !errors.Is(err, ErrNoCommonCodec) {
		t.Errorf("err = %v, want ErrNoCommonCodec", err)
	}
}

func TestParseAnswer_Garbage(t *testing.T) {
	if _, err := ParseAnswer([]byte("not sdp at all"), nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestParseAnswer_RoundTripWithOffer(t *testing.T) {
	// Ответ это предложение удаленной стороны с одним кодеком
	cfg := DefaultOfferConfig("198.51.100.5", 20002)
	cfg.Codecs = []Codec{CodecPCMU}
	body, err := BuildOffer(cfg)
	if err != nil {
		t.Fatalf("BuildOffer: %v", err)
	}

	desc, err := ParseAnswer(body, []Codec{CodecPCMU, CodecPCMA})
	if err != nil {
		t.Fatalf("ParseAnswer: %v", err)
	}
	if desc.Codec != CodecPCMU || desc.RemoteAddr != "198.51.100.5" || desc.RemotePort != 20002 {
		t.Errorf("unexpected descriptor: %+v", desc)
	}
}
