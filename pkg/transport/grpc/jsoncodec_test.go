package grpc

import "testing"

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	in := &ackResp{OK: true}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out ackResp
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.OK != in.OK {
		t.Fatalf("got %+v, want %+v", out, in)
	}
	if c.Name() != "json" {
		t.Fatalf("got codec name %q, want json", c.Name())
	}
}
