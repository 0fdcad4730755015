package wayland

const (
	evOutputGeometry    = 0
	evOutputMode        = 1
	evOutputDone        = 2
	evOutputScale       = 3
	evOutputName        = 4
	evOutputDescription = 5

	outputModeCurrent   = 0x1
	outputModePreferred = 0x2
	subpixelUnknown     = 0
	transformNormal     = 0
)

type outputRes struct{ resource }

func bindOutput(_ *Client, id, version uint32) object {
	return &outputRes{resource{id: id, version: version}}
}

func (*outputRes) iface() string { return ifaceOutput }

func (r *outputRes) dispatch(c *Client, op uint16, _ *args) error {
	// release exists from version 3 on.
	if op != 0 || r.version < 3 {
		return protocolErr(r.id, errInvalidMethod, "wl_output has no request %d", op)
	}
	c.destroy(r.id)
	return nil
}

func (r *outputRes) bound(c *Client) {
	o := c.srv.output
	c.send(newEvent(r.id, evOutputGeometry).
		Int(0).Int(0).
		Int(0).Int(0).
		Int(subpixelUnknown).
		String(o.Make).String(o.Model).
		Int(transformNormal))
	r.sendMode(c)
	if r.version >= 2 {
		c.send(newEvent(r.id, evOutputScale).Int(1))
	}
	if r.version >= 4 {
		c.send(newEvent(r.id, evOutputName).String(o.Name))
		c.send(newEvent(r.id, evOutputDescription).String(o.Make + " " + o.Model + " " + o.Mode().String()))
	}
	r.sendDone(c)

	// Surfaces mapped before the output was bound still need an enter.
	for _, s := range c.surfaces {
		if s.entered {
			c.send(newEvent(s.id, evSurfaceEnter).Uint(r.id))
		}
	}
}

func (r *outputRes) sendMode(c *Client) {
	m := c.srv.output.Mode()
	c.send(newEvent(r.id, evOutputMode).
		Uint(outputModeCurrent|outputModePreferred).
		Int(int32(m.Width)).Int(int32(m.Height)).
		Int(int32(m.Refresh)))
}

func (r *outputRes) sendDone(c *Client) {
	if r.version >= 2 {
		c.send(newEvent(r.id, evOutputDone))
	}
}
