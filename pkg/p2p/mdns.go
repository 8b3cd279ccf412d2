package p2p

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	mdnsService = "_otcmatch._tcp"
	mdnsDomain  = "local."
	mdnsTxtAddr = "p2p="
)

// startMDNS advertises this host on the local link and dials every other
// otcmatch host it hears about. Discovery stops when the net is closed.
func (n *Libp2pNet) startMDNS() error {
	port, err := tcpPort(n.h.Addrs())
	if err != nil {
		return err
	}
	txt := make([]string, 0, 4)
	for _, a := range n.Addrs() {
		txt = append(txt, mdnsTxtAddr+a)
	}
	srv, err := zeroconf.Register(n.h.ID().String(), mdnsService, mdnsDomain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	n.mdns = srv

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry, 16)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-n.ctx.Done():
				return
			case e, ok := <-entries:
				if !ok {
					return
				}
				n.dialMDNSEntry(e)
			}
		}
	}()
	if err := resolver.Browse(n.ctx, mdnsService, mdnsDomain, entries); err != nil {
		return fmt.Errorf("mdns browse: %w", err)
	}
	return nil
}

func (n *Libp2pNet) dialMDNSEntry(e *zeroconf.ServiceEntry) {
	for _, t := range e.Text {
		if !strings.HasPrefix(t, mdnsTxtAddr) {
			continue
		}
		m, err := ma.NewMultiaddr(strings.TrimPrefix(t, mdnsTxtAddr))
		if err != nil {
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(m)
		if err != nil || info.ID == n.h.ID() {
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, 5*time.Second)
		err = n.h.Connect(ctx, *info)
		cancel()
		if err != nil {
			n.log.Debugw("mdns_connect_failed", "peer", info.ID.String(), "err", err)
			continue
		}
		n.log.Infow("mdns_peer_connected", "peer", info.ID.String())
		return
	}
}

func tcpPort(addrs []ma.Multiaddr) (int, error) {
	for _, a := range addrs {
		v, err := a.ValueForProtocol(ma.P_TCP)
		if err != nil {
			continue
		}
		return strconv.Atoi(v)
	}
	return 0, fmt.Errorf("no tcp listen address")
}
