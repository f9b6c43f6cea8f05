// Package mqttd implements the server side of MQTT 3.1.1.
//
// This package implements the MQTT Version 3.1.1 OASIS Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// Protocol level 4 ("MQTT") and level 3 ("MQIsdp") CONNECTs are accepted.
//
// # Features
//
//   - All 14 MQTT 3.1.1 control packet types
//   - Streaming decoder that keeps partial frames across reads
//   - Per-session packet identifier allocation
//   - Keep-alive supervision on an injectable Clock
//   - Topic matching with wildcard support (+, #)
//   - Transport: TCP, Unix socket, WebSocket
//
// # Packet Types
//
// Every packet embeds FixedHeader and implements Packet:
//
//   - ConnectPacket, ConnackPacket: Connection establishment
//   - PublishPacket, PubackPacket, PubrecPacket, PubrelPacket, PubcompPacket: Message delivery
//   - SubscribePacket, SubackPacket: Topic subscription
//   - UnsubscribePacket, UnsubackPacket: Topic unsubscription
//   - PingreqPacket, PingrespPacket: Keep-alive
//   - DisconnectPacket: Connection termination
//
// Packets that only clients send decode but fail to encode with
// ErrUnsupportedDirection.
//
// Use a Decoder when bytes arrive in arbitrary chunks:
//
//	dec := mqttd.NewDecoder(maxPacketSize)
//	dec.Feed(chunk)
//	for {
//	    pkt, err := dec.Next()
//	    if err != nil || pkt == nil {
//	        break
//	    }
//	    // handle pkt
//	}
//
// # Server
//
// A Server runs one Session per connection. Sessions dispatch decoded packets
// to a Handler; the default Processor implements CONNECT, publish routing and
// the acknowledgement flows:
//
//	srv := mqttd.NewServer(
//	    mqttd.WithLogger(mqttd.NewZerologLogger(os.Stderr, mqttd.LogLevelInfo)),
//	    mqttd.WithKeepAliveGrace(1.5),
//	)
//	defer srv.Close()
//
//	if err := srv.ListenAndServe(":1883"); err != nil && !errors.Is(err, mqttd.ErrServerClosed) {
//	    log.Fatal(err)
//	}
//
// Custom handlers receive each packet together with its Session:
//
//	h := mqttd.HandlerFunc(func(ctx context.Context, p mqttd.Packet, s *mqttd.Session) error {
//	    if _, ok := p.(*mqttd.PingreqPacket); ok {
//	        return s.WritePacket(&mqttd.PingrespPacket{})
//	    }
//	    return nil
//	})
//	session := mqttd.NewSession(conn, h)
//	err := session.Serve(ctx)
//
// # Keep-Alive
//
// A client that stays silent for longer than its keep-alive interval times the
// grace factor (2.0 by default) is disconnected. Any inbound packet restarts the
// timer. WithServerKeepAlive overrides the interval requested by clients.
//
// # Not Implemented
//
// Persistence of sessions or retained messages, exactly-once bookkeeping for
// QoS 2, TLS and clustering.
package mqttd
