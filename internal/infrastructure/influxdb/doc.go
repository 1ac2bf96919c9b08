// Package influxdb archives published sensor readings in InfluxDB 2.x.
//
// The archive is optional. Each reading the bridge successfully publishes
// is also written as a point in the sensor_readings measurement, tagged by
// node id. Writes are batched and non-blocking; batch size and flush
// interval come from the influxdb section of config.yaml.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) {
//	    logger.Warn("influxdb write failed", "error", err)
//	})
//	client.WriteReading(5, 72, time.Now())
//
// # Error Handling
//
// Connect and HealthCheck return errors directly. Write failures arrive
// asynchronously through the SetOnError callback and wrap ErrWriteFailed.
package influxdb
