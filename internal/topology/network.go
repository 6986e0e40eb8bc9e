package topology

// Network describes the daemon network resource a topology needs.
type Network struct {
	Name       string
	Driver     string
	Subnet     string
	Gateway    string
	Options    map[string]string
	Attachable bool
}

// NetworkFor returns the network resource for cfg. Host networking needs none.
func NetworkFor(cfg Config) (Network, bool) {
	n := Network{
		Name:   cfg.NetworkName,
		Subnet: cfg.Subnet.String(),
	}
	if cfg.Gateway.IsValid() {
		n.Gateway = cfg.Gateway.String()
	}

	switch cfg.Kind {
	case KindMacvlan:
		n.Driver = "macvlan"
		if cfg.ParentInterface != "" {
			n.Options = map[string]string{"parent": cfg.ParentInterface}
		}
	case KindBridge:
		n.Driver = "bridge"
	case KindOverlay:
		n.Driver = "overlay"
		n.Attachable = true
	default:
		return Network{}, false
	}
	return n, true
}
