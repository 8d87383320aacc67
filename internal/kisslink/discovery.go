package kisslink

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"
)

// DNSSDServiceType is the mDNS service type KISS-over-TCP TNCs announce
// themselves under, grounded on doismellburning-samoyed/src/dns_sd.go's
// DNS_SD_SERVICE constant.
const DNSSDServiceType = "_kiss-tnc._tcp"

// AnnounceTCP advertises a local KISS-over-TCP endpoint on the LAN via
// mDNS/DNS-SD so client applications can discover it instead of being
// configured with a fixed host:port, exactly as
// doismellburning-samoyed/src/dns_sd.go does for direwolf's own kissnet
// server.
func AnnounceTCP(ctx context.Context, name string, port int) (func(), error) {
	cfg := dnssd.Config{
		Name: name,
		Type: DNSSDServiceType,
		Port: port,
	}

	sv, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("kisslink: dns-sd service: %w", err)
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("kisslink: dns-sd responder: %w", err)
	}

	handle, err := responder.Add(sv)
	if err != nil {
		return nil, fmt.Errorf("kisslink: dns-sd add: %w", err)
	}

	respondCtx, cancel := context.WithCancel(ctx)

	go func() {
		_ = responder.Respond(respondCtx)
	}()

	stop := func() {
		responder.Remove(handle)
		cancel()
	}

	return stop, nil
}
