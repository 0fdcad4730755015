package wayland

import (
	"fmt"
	"runtime/debug"

	"github.com/bnema/waydisplay/internal/surface"
	"golang.org/x/sys/unix"
)

// wl_shm error codes.
const (
	errShmInvalidFormat = 0
	errShmInvalidStride = 1
	errShmInvalidFD     = 2
)

const (
	evShmFormat     = 0
	evBufferRelease = 0
)

// bytesPerPixel covers the formats a buffer may be created with. Formats
// the engine cannot import are still accepted so the surface is skipped at
// composite time rather than failing the client.
func bytesPerPixel(f surface.Format) int {
	switch f {
	case surface.FormatARGB8888, surface.FormatXRGB8888, surface.FormatABGR8888, surface.FormatXBGR8888:
		return 4
	case surface.FormatRGB565:
		return 2
	}
	return 0
}

type shmRes struct{ resource }

func bindShm(_ *Client, id, version uint32) object {
	return &shmRes{resource{id: id, version: version}}
}

func (*shmRes) iface() string { return ifaceShm }

func (r *shmRes) bound(c *Client) {
	for _, f := range surface.SupportedFormats() {
		c.send(newEvent(r.id, evShmFormat).Uint(uint32(f)))
	}
}

func (r *shmRes) dispatch(c *Client, op uint16, a *args) error {
	if op != 0 {
		return protocolErr(r.id, errInvalidMethod, "wl_shm has no request %d", op)
	}
	id := a.Uint()
	size := a.Int()
	fd, err := c.takeFD()
	if err != nil {
		return protocolErr(r.id, errShmInvalidFD, "create_pool: %v", err)
	}
	if size <= 0 {
		unix.Close(fd)
		return protocolErr(r.id, errShmInvalidStride, "invalid pool size %d", size)
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return protocolErr(r.id, errShmInvalidFD, "mmap pool: %v", err)
	}
	p := &pool{fd: fd, data: data, refs: 1}
	if err := c.register(id, &shmPoolRes{resource: resource{id: id, version: r.version}, pool: p}); err != nil {
		p.unref()
		return err
	}
	return nil
}

// pool is a client memory mapping shared by the pool object and the
// buffers carved from it. It is unmapped when the last of them goes away.
type pool struct {
	fd   int
	data []byte
	refs int
}

func (p *pool) unref() {
	p.refs--
	if p.refs > 0 {
		return
	}
	unix.Munmap(p.data)
	unix.Close(p.fd)
	p.data = nil
}

type shmPoolRes struct {
	resource
	pool     *pool
	released bool
}

func (*shmPoolRes) iface() string { return ifaceShmPool }

func (r *shmPoolRes) dispatch(c *Client, op uint16, a *args) error {
	switch op {
	case 0: // create_buffer
		id := a.Uint()
		offset, width, height, stride := a.Int(), a.Int(), a.Int(), a.Int()
		format := surface.Format(a.Uint())
		if err := a.Err(); err != nil {
			return err
		}
		bpp := bytesPerPixel(format)
		if bpp == 0 {
			return protocolErr(r.id, errShmInvalidFormat, "unsupported format 0x%08x", uint32(format))
		}
		if width <= 0 || height <= 0 || offset < 0 || int(stride) < int(width)*bpp ||
			int64(offset)+int64(stride)*int64(height) > int64(len(r.pool.data)) {
			return protocolErr(r.id, errShmInvalidStride,
				"invalid buffer geometry offset=%d %dx%d stride=%d in pool of %d bytes",
				offset, width, height, stride, len(r.pool.data))
		}
		b := &bufferRes{
			resource: resource{id: id, version: 1},
			pool:     r.pool,
			offset:   int(offset),
			width:    int(width),
			height:   int(height),
			stride:   int(stride),
			format:   format,
		}
		if err := c.register(id, b); err != nil {
			return err
		}
		r.pool.refs++
	case 1: // destroy
		r.release()
		c.destroy(r.id)
	case 2: // resize
		size := int(a.Int())
		if size < len(r.pool.data) {
			return protocolErr(r.id, errShmInvalidStride, "pool cannot shrink to %d bytes", size)
		}
		if size == len(r.pool.data) {
			return nil
		}
		data, err := unix.Mmap(r.pool.fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return protocolErr(r.id, errShmInvalidFD, "remap pool: %v", err)
		}
		unix.Munmap(r.pool.data)
		r.pool.data = data
	default:
		return protocolErr(r.id, errInvalidMethod, "wl_shm_pool has no request %d", op)
	}
	return nil
}

func (r *shmPoolRes) release() {
	if r.released {
		return
	}
	r.released = true
	r.pool.unref()
}

type bufferRes struct {
	resource
	pool   *pool
	offset int
	width  int
	height int
	stride int
	format surface.Format

	destroyed bool
}

func (*bufferRes) iface() string { return ifaceBuffer }

func (b *bufferRes) dispatch(c *Client, op uint16, _ *args) error {
	if op != 0 {
		return protocolErr(b.id, errInvalidMethod, "wl_buffer has no request %d", op)
	}
	b.release()
	c.destroy(b.id)
	return nil
}

func (b *bufferRes) release() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.pool.unref()
}

// snapshot copies the buffer content out of the pool. A client truncating
// the backing file makes the read fault; that is reported as an error.
func (b *bufferRes) snapshot() (buf *surface.Buffer, err error) {
	size := b.stride * b.height
	end := b.offset + size
	if end > len(b.pool.data) {
		return nil, fmt.Errorf("buffer exceeds its pool (%d > %d)", end, len(b.pool.data))
	}

	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("reading shm buffer: %v", r)
		}
	}()

	pixels := make([]byte, size)
	copy(pixels, b.pool.data[b.offset:end])
	return &surface.Buffer{
		Format: b.format,
		Width:  b.width,
		Height: b.height,
		Stride: b.stride,
		Pixels: pixels,
	}, nil
}
