package main

import (
	"fmt"
	"os"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/raytracing"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// PrintLayout builds the shader table of a scene and prints one row per record.
func PrintLayout(ctx *cli.Context) error {
	dev, err := device.NewDevice(device.WithBackend(device.BackendTypeHeadless))
	if err != nil {
		return err
	}
	defer dev.Release()

	s, err := newSession(ctx, dev, 1, 1)
	if err != nil {
		return err
	}
	defer s.Release()

	b := s.renderer.Pipeline().Bindings()
	if b == nil {
		return fmt.Errorf("pipeline has no shader table")
	}
	printLayout(b)
	return nil
}

func printLayout(b *raytracing.Bindings) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Record", "Kind", "Export", "Ray type", "Instance", "Offset"})

	size := uint64(b.RecordSize())
	program := b.Program()
	table.Append([]string{"0", "raygen", program.RayGen().Name(), "-", "-", "0"})
	for m := 0; m < b.MissProgramCount(); m++ {
		index := b.FirstMissRecordIndex() + m
		table.Append([]string{
			fmt.Sprint(index), "miss", program.Miss(m).Name(), fmt.Sprint(m), "-", fmt.Sprint(uint64(index) * size),
		})
	}
	for h := 0; h < b.HitProgramCount(); h++ {
		for i := 0; i < b.InstanceCount(); i++ {
			offset := b.HitRecordOffset(h, i)
			table.Append([]string{
				fmt.Sprint(offset / size), "hit", program.HitGroup(h).Name(), fmt.Sprint(h), fmt.Sprint(i), fmt.Sprint(offset),
			})
		}
	}
	table.SetFooter([]string{
		fmt.Sprint(b.RecordCount()), "records",
		fmt.Sprintf("stride %d", b.RayContributionStride()), "",
		fmt.Sprintf("%d bytes each", size), fmt.Sprint(uint64(b.RecordCount()) * size),
	})
	table.Render()
}
