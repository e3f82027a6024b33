package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/incinerator-map/pkg/geocode"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode <address...>",
	Short: "Resolve an address to coordinates",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gc, closeFn, err := newGeocoder(cfg.Geocode)
		if err != nil {
			return err
		}
		defer closeFn()
		return runGeocode(cmd.Context(), gc, strings.Join(args, " "), cmd.OutOrStdout())
	},
}

var reverseCmd = &cobra.Command{
	Use:     "reverse <lat> <lng>",
	Short:   "Resolve coordinates to an address",
	Example: "  incinerator-map reverse -- 41.85 -87.65",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, lng, err := parseLatLng(args[0], args[1])
		if err != nil {
			return err
		}
		gc, closeFn, err := newGeocoder(cfg.Geocode)
		if err != nil {
			return err
		}
		defer closeFn()
		return runReverse(cmd.Context(), gc, lat, lng, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(geocodeCmd, reverseCmd)
}

func runGeocode(ctx context.Context, gc geocode.Client, query string, w io.Writer) error {
	r, err := gc.GeocodeAddress(ctx, query)
	if errors.Is(err, geocode.ErrNotFound) {
		return eris.Errorf("no match for %q", query)
	}
	if err != nil {
		return eris.Wrap(err, "geocode address")
	}
	_, err = fmt.Fprintf(w, "%.6f,%.6f\t%s\n", r.Lat, r.Lng, r.DisplayName)
	return err
}

func runReverse(ctx context.Context, gc geocode.Client, lat, lng float64, w io.Writer) error {
	name, err := gc.ReverseGeocode(ctx, lat, lng)
	if errors.Is(err, geocode.ErrNotFound) {
		return eris.Errorf("no address at %.6f,%.6f", lat, lng)
	}
	if err != nil {
		return eris.Wrap(err, "reverse geocode")
	}
	_, err = fmt.Fprintln(w, name)
	return err
}

func parseLatLng(latArg, lngArg string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(latArg, 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "invalid latitude %q", latArg)
	}
	lng, err := strconv.ParseFloat(lngArg, 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "invalid longitude %q", lngArg)
	}
	return lat, lng, nil
}
