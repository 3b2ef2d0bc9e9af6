/*
Package batch runs independent simulation scenarios concurrently.

A kernel and the components it drives are single-threaded, but separate
scenarios share no state, so a batch hands each scenario to one of a fixed
number of worker goroutines:

	outcomes, err := batch.Run(ctx, scenarios, batch.Config{Workers: 4})
	if err != nil {
		return err
	}
	for _, o := range outcomes {
		if o.Err != nil {
			log.Printf("%s: %v", o.Scenario.Name, o.Err)
			continue
		}
		fmt.Println(o.Scenario.Name, o.Result.DropRate())
	}

Panics inside a scenario are recovered and reported as that scenario's error.
Config.Timeout bounds each run's wall-clock time through its context.
*/
package batch
