// Package discovery announces this node's chain URL on the local network and
// reports the announcements of other nodes, using UDP multicast.
//
//	d := &discovery.Discover{
//		NodeID:                       uuid.New(),
//		Info:                         []byte("http://10.0.0.7:8080"),
//		Port:                         53550,
//		IntervalBetweenAnnouncements: 5 * time.Second,
//	}
//	if err := d.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer d.Close()
//
//	for entry := range d.Entries {
//		fmt.Printf("node %s serves %s\n", entry.NodeID, entry.Info)
//	}
//
// Behavior:
//   - Announcements are sent to 239.0.0.1 on the given port.
//   - Each packet starts with the 16-byte node UUID; a node ignores its own.
//   - Entries is closed once Close has been called and the listener exited.
package discovery
