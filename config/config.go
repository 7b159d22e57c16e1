package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	// A .env next to the binary is convenient on dev machines. Missing
	// files are fine.
	_ = godotenv.Load()

	v = viper.New()

	v.SetDefault("device.id", "RK3568-Rover-01")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("camera.front.device", "/dev/video0")
	v.SetDefault("camera.rear.device", "/dev/video1")
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 720)
	v.SetDefault("camera.framerate", 30)
	v.SetDefault("camera.format", "MJPG")

	v.SetDefault("audio.device", "default")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.chunk_size", 1024)

	v.SetDefault("speaker.device", "default")
	v.SetDefault("speaker.enabled", true)

	v.SetDefault("motor.port", "/dev/ttyUSB0")
	v.SetDefault("motor.baud_rate", 115200)
	v.SetDefault("motor.timeout", time.Second)
	v.SetDefault("motor.queue_size", 64)

	v.SetDefault("webrtc.signaling_url", "")
	v.SetDefault("webrtc.stun_servers", []string{})

	v.SetDefault("encoder.video_bitrate", "2M")
	v.SetDefault("encoder.hardware", "auto")

	v.SetDefault("monitor.interval", 10*time.Second)

	v.SetDefault("telemetry.redis_url", "")
	v.SetDefault("telemetry.channel", "rover:telemetry")

	v.SetDefault("auth.token", "")

	v.SetEnvPrefix("ROVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short aliases for the env vars operators actually type.
	_ = v.BindEnv("server.port", "ROVER_PORT")
	_ = v.BindEnv("auth.token", "ROVER_TOKEN")
	_ = v.BindEnv("device.id", "ROVER_DEVICE_ID")
	_ = v.BindEnv("webrtc.signaling_url", "ROVER_SIGNALING_URL")
	_ = v.BindEnv("telemetry.redis_url", "ROVER_REDIS_URL")
	_ = v.BindEnv("debug", "ROVER_DEBUG")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(HomeDir())
	v.AddConfigPath("/etc/rover")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A malformed config file should not take the rover down,
			// defaults and env still apply.
			os.Stderr.WriteString("config: " + err.Error() + "\n")
		}
	}
}

// HomeDir returns the rover state directory, ROVER_HOME or ~/.rover.
func HomeDir() string {
	if dir := os.Getenv("ROVER_HOME"); dir != "" {
		return dir
	}
	return filepath.Join(xdg.Home, ".rover")
}

// EnsureHomeDir creates the rover state directory if needed.
func EnsureHomeDir() (string, error) {
	dir := HomeDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func GetDeviceID() string { return v.GetString("device.id") }

func GetServerHost() string { return v.GetString("server.host") }
func GetServerPort() int    { return v.GetInt("server.port") }

func GetFrontCameraDevice() string { return v.GetString("camera.front.device") }
func GetRearCameraDevice() string  { return v.GetString("camera.rear.device") }
func GetCameraWidth() int          { return v.GetInt("camera.width") }
func GetCameraHeight() int         { return v.GetInt("camera.height") }
func GetCameraFramerate() int      { return v.GetInt("camera.framerate") }
func GetCameraFormat() string      { return v.GetString("camera.format") }

func GetAudioDevice() string   { return v.GetString("audio.device") }
func GetAudioSampleRate() int  { return v.GetInt("audio.sample_rate") }
func GetAudioChannels() int    { return v.GetInt("audio.channels") }
func GetAudioChunkSize() int   { return v.GetInt("audio.chunk_size") }
func GetSpeakerDevice() string { return v.GetString("speaker.device") }
func IsSpeakerEnabled() bool   { return v.GetBool("speaker.enabled") }

func GetMotorPort() string           { return v.GetString("motor.port") }
func GetMotorBaudRate() int          { return v.GetInt("motor.baud_rate") }
func GetMotorTimeout() time.Duration { return v.GetDuration("motor.timeout") }
func GetMotorQueueSize() int         { return v.GetInt("motor.queue_size") }

func GetSignalingURL() string   { return v.GetString("webrtc.signaling_url") }
func GetStunServers() []string  { return v.GetStringSlice("webrtc.stun_servers") }
func GetVideoBitrate() string   { return v.GetString("encoder.video_bitrate") }
func GetEncoderHardware() string { return v.GetString("encoder.hardware") }

func GetMonitorInterval() time.Duration { return v.GetDuration("monitor.interval") }

func GetRedisURL() string        { return v.GetString("telemetry.redis_url") }
func GetTelemetryChannel() string { return v.GetString("telemetry.channel") }

func GetAccessToken() string { return v.GetString("auth.token") }

func IsDebug() bool { return v.GetBool("debug") }
