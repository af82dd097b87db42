package sdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const fixture = "v=0\r\n" +
	"o=alice 12345 67890 IN IP4 10.0.0.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 0 8 96\r\n" +
	"a=rtpmap:96 opus/48000/2\r\n" +
	"m=video 49172 RTP/AVP 97\r\n" +
	"c=IN IP4 10.0.0.2\r\n" +
	"a=rtcp:49173\r\n" +
	"a=rtpmap:97 H264/90000\r\n"

func TestParseSessionAndMedia(t *testing.T) {
	sess := Parse([]byte(fixture))
	assert.Equal(t, "10.0.0.1", sess.SessionAddress)
	if assert.Len(t, sess.Media, 2) {
		audio := sess.Media[0]
		assert.Equal(t, MediaAudio, audio.Type)
		assert.Equal(t, 49170, audio.Port)
		assert.Equal(t, "10.0.0.1", audio.Address) // inherits session c=
		assert.Equal(t, 49171, audio.RTCPPort)      // default RTP+1
		assert.Equal(t, []Format{
			{PayloadType: 0, Name: "PCMU"},
			{PayloadType: 8, Name: "PCMA"},
			{PayloadType: 96, Name: "opus", Alias: "opus"},
		}, audio.Formats)

		video := sess.Media[1]
		assert.Equal(t, MediaVideo, video.Type)
		assert.Equal(t, "10.0.0.2", video.Address) // media-scoped c= overrides session
		assert.Equal(t, 49173, video.RTCPPort)      // overridden by a=rtcp:
		assert.Equal(t, []Format{{PayloadType: 97, Name: "H264", Alias: "H264"}}, video.Formats)
	}
}

func TestStandardPayloadTypeIgnoresRTPMap(t *testing.T) {
	body := "c=IN IP4 10.0.0.1\r\n" +
		"m=audio 49170 RTP/AVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n"
	sess := Parse([]byte(body))
	assert.Equal(t, "PCMU", sess.Media[0].Formats[0].Name)
	assert.Empty(t, sess.Media[0].Formats[0].Alias) // rtpmap ignored for standard types
}

func TestMRCPChannelAttribute(t *testing.T) {
	body := "c=IN IP4 10.0.0.1\r\n" +
		"m=application 9 TCP/MRCPv2 1\r\n" +
		"a=channel:32AECB23433802@speechrecog\r\n"
	sess := Parse([]byte(body))
	assert.Equal(t, "32AECB23433802@speechrecog", sess.Media[0].Channel)
}
