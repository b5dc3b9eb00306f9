// Package mqtt publishes vehicle fault state to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Subscriptions, restored after a reconnect
//   - Last Will and Testament (LWT) so dashboards see a vehicle drop off
//   - An EventPublisher that forwards applied Suspension and SuspensionExit
//     events from the vehicle context
//   - A BroadcastRelay that hands dashboard messages to the fabric server
//
// # Architecture
//
// Device traffic stays on the fabric; dashboards and loggers subscribe
// here. The one inbound path is the broadcast topic, whose payloads reach
// the fabric server's peers and nothing else.
//
//	fabric -> sft.Tracer -> vehicle.Context -> EventPublisher -> broker
//	broker -> BroadcastRelay -> service.Server.Broadcast -> fabric peers
//
// # Topics
//
//	assistdrive/{vehicle}/status             retained online/offline (LWT)
//	assistdrive/{vehicle}/health             retained periodic report
//	assistdrive/{vehicle}/sft/{system}/event suspension events
//	assistdrive/{vehicle}/sft/{system}/state retained suspended/ok
//	assistdrive/{vehicle}/fabric/broadcast   inbound, relayed to fabric peers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Vehicle.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	pub := mqtt.NewEventPublisher(client, client.Topics(), log)
//	go pub.Run(ctx)
//	vehicleCtx.AddListener(pub)
package mqtt
