package device

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
)

// Console command defaults. Values equal to their default are not sent;
// the device already uses them.
const (
	defaultMQTTPort      = 1883
	defaultMQTTTopic     = "tasmota_%06X"
	defaultMQTTFullTopic = "%prefix%/%topic%/"
	defaultNetmask       = "255.255.255.0"
	defaultCORS          = "*"

	recoverySSID     = "Recovery"
	recoveryPassword = "a1b2c3d4"
)

// WiFiSettings configures the primary access point.
type WiFiSettings struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// StaticIPSettings configures a fixed address instead of DHCP.
type StaticIPSettings struct {
	IP      string `yaml:"ip"`
	Gateway string `yaml:"gateway"`
	Netmask string `yaml:"netmask"`
	DNS     string `yaml:"dns"`
}

// MQTTSettings configures the MQTT broker connection.
type MQTTSettings struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Topic     string `yaml:"topic"`
	FullTopic string `yaml:"full_topic"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
}

// SetOptions toggles the device behavior switches operators commonly
// flip right after flashing.
type SetOptions struct {
	// HADiscovery enables HomeAssistant auto-discovery (SetOption19).
	HADiscovery *bool `yaml:"ha_discovery"`
	// UTCOffsetJSON displays the time offset in JSON payloads (SetOption52).
	UTCOffsetJSON *bool `yaml:"utc_offset_json"`
	// KeepSettingsOnPowerCycles stops settings erase after four quick
	// power cycles (SetOption65).
	KeepSettingsOnPowerCycles *bool `yaml:"keep_settings_on_power_cycles"`
}

// Settings is the device configuration loaded from a YAML file. Only
// present sections produce console commands.
type Settings struct {
	Hostname     string            `yaml:"hostname"`
	WiFi         *WiFiSettings     `yaml:"wifi"`
	RecoveryWiFi bool              `yaml:"recovery_wifi"`
	StaticIP     *StaticIPSettings `yaml:"static_ip"`
	MQTT         *MQTTSettings     `yaml:"mqtt"`
	Module       *int              `yaml:"module"`
	Template     string            `yaml:"template"`
	CORS         string            `yaml:"cors"`
	SetOptions   *SetOptions       `yaml:"setoptions"`
}

// LoadSettings reads a device settings file.
func LoadSettings(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read settings file %s", path)
	}
	var s Settings
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, errors.Wrap(err, "parse settings file")
	}
	return &s, nil
}

// Commands compiles the settings into an ordered list of console
// commands, ending with "restart 1" so the device applies them. Missing
// required fields fail before anything is sent.
func (s *Settings) Commands() ([]string, error) {
	var commands []string

	if s.Hostname != "" {
		commands = append(commands, "hostname "+s.Hostname)
	}

	if s.WiFi != nil {
		if s.WiFi.SSID == "" {
			return nil, fmt.Errorf("wifi: ssid is required")
		}
		if s.WiFi.Password == "" {
			return nil, fmt.Errorf("wifi: password is required")
		}
		commands = append(commands, "ssid1 "+s.WiFi.SSID, "password1 "+s.WiFi.Password)
	}

	if s.RecoveryWiFi {
		commands = append(commands, "ssid2 "+recoverySSID, "password2 "+recoveryPassword)
	}

	if s.StaticIP != nil {
		if s.StaticIP.IP == "" {
			return nil, fmt.Errorf("static_ip: ip is required")
		}
		if s.StaticIP.Gateway == "" {
			return nil, fmt.Errorf("static_ip: gateway is required")
		}
		commands = append(commands, "ipaddress1 "+s.StaticIP.IP, "ipaddress2 "+s.StaticIP.Gateway)
		if s.StaticIP.Netmask != "" && s.StaticIP.Netmask != defaultNetmask {
			commands = append(commands, "ipaddress3 "+s.StaticIP.Netmask)
		}
		if s.StaticIP.DNS != "" {
			commands = append(commands, "ipaddress4 "+s.StaticIP.DNS)
		}
	}

	if s.MQTT != nil {
		if s.MQTT.Host == "" {
			return nil, fmt.Errorf("mqtt: host is required")
		}
		commands = append(commands, "mqtthost "+s.MQTT.Host)
		if s.MQTT.Port != 0 && s.MQTT.Port != defaultMQTTPort {
			commands = append(commands, fmt.Sprintf("mqttport %d", s.MQTT.Port))
		}
		if s.MQTT.Topic != "" && s.MQTT.Topic != defaultMQTTTopic {
			commands = append(commands, "topic "+s.MQTT.Topic)
		}
		if s.MQTT.FullTopic != "" && s.MQTT.FullTopic != defaultMQTTFullTopic {
			commands = append(commands, "fulltopic "+s.MQTT.FullTopic)
		}
		if s.MQTT.User != "" {
			commands = append(commands, "mqttuser "+s.MQTT.User)
			if s.MQTT.Password == "" {
				return nil, fmt.Errorf("mqtt: password is required with user")
			}
			commands = append(commands, "mqttpassword "+s.MQTT.Password)
		}
	}

	if s.Module != nil {
		commands = append(commands, fmt.Sprintf("module %d", *s.Module))
	}

	if s.Template != "" {
		commands = append(commands, "template "+s.Template)
	}

	if s.CORS != "" && s.CORS != defaultCORS {
		commands = append(commands, "cors "+s.CORS)
	}

	if s.SetOptions != nil {
		for _, opt := range []struct {
			name  string
			value *bool
		}{
			{"setoption19", s.SetOptions.HADiscovery},
			{"setoption52", s.SetOptions.UTCOffsetJSON},
			{"setoption65", s.SetOptions.KeepSettingsOnPowerCycles},
		} {
			if opt.value == nil {
				continue
			}
			v := 0
			if *opt.value {
				v = 1
			}
			commands = append(commands, fmt.Sprintf("%s %d", opt.name, v))
		}
	}

	if len(commands) == 0 {
		return nil, fmt.Errorf("settings produce no commands")
	}
	return append(commands, "restart 1"), nil
}

// Backlog joins console commands into the single batched command the
// device console accepts.
func Backlog(commands []string) string {
	return "backlog " + strings.Join(commands, "; ")
}

// SendConfig writes the batched commands to the device console and
// returns the number of bytes sent. The device restarts on receipt.
func SendConfig(w io.Writer, commands []string) (int, error) {
	n, err := w.Write([]byte(Backlog(commands) + "\n"))
	return n, errors.Wrap(err, "write config to port")
}
