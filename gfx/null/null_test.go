package null

import (
	"errors"
	"testing"

	"github.com/gogpu/pyre/gfx"
)

func TestResourceAccounting(t *testing.T) {
	d := New()
	if err := d.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	tex, err := d.CreateTexture(&gfx.TextureDesc{Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	buf, err := d.CreateBuffer(&gfx.BufferDesc{Size: 64})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if d.AliveTextures() != 1 || d.AliveBuffers() != 1 {
		t.Fatalf("alive = %d textures, %d buffers, want 1, 1",
			d.AliveTextures(), d.AliveBuffers())
	}

	d.DestroyTexture(tex)
	d.DestroyBuffer(buf)
	if d.AliveTextures() != 0 || d.AliveBuffers() != 0 {
		t.Errorf("alive after destroy = %d textures, %d buffers, want 0, 0",
			d.AliveTextures(), d.AliveBuffers())
	}
}

func TestBufferRoundTrip(t *testing.T) {
	d := New()
	buf, err := d.CreateBuffer(&gfx.BufferDesc{Size: 8})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}

	d.WriteBuffer(buf, 2, []byte{1, 2, 3})
	data, err := d.ReadBuffer(buf)
	if err != nil {
		t.Fatalf("ReadBuffer() error = %v", err)
	}
	want := []byte{0, 0, 1, 2, 3, 0, 0, 0}
	for i, w := range want {
		if data[i] != w {
			t.Fatalf("data = %v, want %v", data, want)
		}
	}

	// Out-of-range writes are dropped, not partially applied.
	d.WriteBuffer(buf, 6, []byte{9, 9, 9})
	data, _ = d.ReadBuffer(buf)
	if data[6] != 0 || data[7] != 0 {
		t.Errorf("out-of-range write modified buffer: %v", data)
	}

	if _, err := d.ReadBuffer(gfx.BufferID(12345)); !errors.Is(err, gfx.ErrUnknownHandle) {
		t.Errorf("ReadBuffer(unknown) error = %v, want ErrUnknownHandle", err)
	}
}

func TestTimestampsResolveAfterInFlightFrames(t *testing.T) {
	d := New()
	id := d.BeginTimestamp("scope")
	d.EndTimestamp(id)

	if _, ok := d.TimestampResult(id); ok {
		t.Fatal("timestamp resolved immediately")
	}
	for i := 0; i < gfx.InFlightFrames; i++ {
		d.Blit(gfx.InvalidID)
	}
	if _, ok := d.TimestampResult(id); !ok {
		t.Fatalf("timestamp unresolved after %d presents", gfx.InFlightFrames)
	}
	// Resolution consumes the entry.
	if _, ok := d.TimestampResult(id); ok {
		t.Error("timestamp resolved twice")
	}
}
