/*
Package simulation wires a traffic source, a token-bucket shaper and a sink
onto one discrete-event kernel and runs them for a fixed virtual horizon.

Scenarios are plain YAML:

	name: demo
	duration: 60
	seed: 1
	source:
	  meanInterArrivalTime: 0.4
	  maxPackets: 0
	shaper:
	  queueSize: 10
	  tokenRate: 2
	  bucketSize: 5
	probe:
	  schedule: "@every 10s"

Keys left out keep their DefaultConfig values. A run is deterministic for a
given configuration, so two runs with the same seed produce the same Result.

	cfg, err := simulation.Load("demo.yaml")
	if err != nil {
		return err
	}
	res, err := simulation.Run(ctx, cfg, simulation.Options{Logger: logger})
*/
package simulation
