package listener

import mqtt "github.com/eclipse/paho.mqtt.golang"

type (
	DValidator = dValidator
	DStore     = dStore
	DPersister = dPersister
)

// WithClientFactory replaces the function creating MQTT clients.
func (t *MQTTTransport) WithClientFactory(f func(*mqtt.ClientOptions) mqtt.Client) {
	t.newClient = f
}

// ClientID returns the client ID presented to the broker.
func (t *MQTTTransport) ClientID() string {
	return t.cfg.ClientID
}

// Broker returns the broker URL.
func (t *MQTTTransport) Broker() string {
	return t.broker
}
