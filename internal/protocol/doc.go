/*
Package protocol defines the messages exchanged between a controller and its
sandbox, and the transports that carry them.

# Wire format

Every message is a JSON object with a string discriminant, a version and a
payload:

	{"type": "files-update", "version": 1, "payload": {"files": [...]}}

Controller to sandbox:

	files-update         {files, entry?, initialRoute?}
	load-route           {route}
	error-overlay-setup  {enabled, policy}

Sandbox to controller:

	sandbox-ready        {version}
	build-result         {fileCount, success, error?, warnings?}
	route-changed        {newRoute}

DecodeToSandbox and DecodeToController return closed variant types. Unknown
discriminants, version mismatches and payloads failing validation produce a
*ProtocolError; callers log and drop such messages.

# Transports

A Port delivers envelopes in send order. Each envelope carries the sender's
ID as stamped by the transport, which receivers compare against the single
peer they trust.

  - NewPipe: an in-process connected pair with unbounded queues
  - Hub: many in-process endpoints addressing each other by ID
  - WebSocketPort: a gorilla/websocket connection
*/
package protocol
