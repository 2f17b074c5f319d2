package mqtt

import (
	"testing"

	"bms/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestTopicBuilders(t *testing.T) {
	c := &MQTTClient{cfg: config.MQTTConfig{BaseTopic: "bms"}}

	assert.Equal(t, "bms/bridge/state", c.BridgeStateTopic())
	assert.Equal(t, "bms/sensor/soc/state", c.SensorStateTopic("soc"))
	assert.Equal(t, "bms/binary_sensor/missing/state", c.BinarySensorStateTopic("missing"))
	assert.Equal(t, "bms/switch/missing/state", c.SwitchStateTopic("missing"))
	assert.Equal(t, "bms/switch/missing/command", c.SwitchCommandTopic("missing"))
	assert.Equal(t, "bms/number/target_soc/state", c.InputNumberStateTopic("target_soc"))
	assert.Equal(t, "bms/number/target_soc/set", c.InputNumberCommandTopic("target_soc"))
}
