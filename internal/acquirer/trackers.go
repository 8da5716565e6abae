package acquirer

// fallbackTrackers is appended as an extra tier to every torrent so magnets
// with few or stale tr= entries still find a swarm. UDP trackers first; the
// HTTP(S) ones are backups for networks that drop UDP.
func fallbackTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://open.tracker.cl:1337/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"udp://explodie.org:6969/announce",
		"udp://exodus.desync.com:6969/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"http://tracker.openbittorrent.com:80/announce",
		"https://tracker.gbitt.info:443/announce",
	}
}

// dhtBootstrapNodes are re-injected during peer discovery recovery when a
// torrent sits at zero peers; the client bootstraps DHT on startup, but a
// failed first bootstrap otherwise leaves the routing table empty.
func dhtBootstrapNodes() []string {
	return []string{
		"router.bittorrent.com:6881",
		"dht.transmissionbt.com:6881",
		"router.utorrent.com:6881",
	}
}
