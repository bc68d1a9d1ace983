package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"pathflow/routing"
	"pathflow/service"
	"pathflow/topology"
)

// SetupRoutes wires the operator-facing HTTP surface onto a fiber app. The
// interactive shell itself lives out of process; these endpoints are its
// contract.
func SetupRoutes(app *fiber.App, svc *service.Service) {
	app.Get("/topology", func(c *fiber.Ctx) error {
		g := svc.Snapshot()
		if g == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "no topology snapshot yet",
			})
		}
		return c.JSON(topologyView(g))
	})

	app.Get("/paths/:src/:dst", func(c *fiber.Ctx) error {
		path, err := svc.ComputePath(c.Context(), c.Params("src"), c.Params("dst"))
		if err != nil {
			return pathError(c, err)
		}
		return c.JSON(fiber.Map{"devices": path.Devices, "weight": path.Weight})
	})

	app.Get("/paths/:src/:dst/alternates", func(c *fiber.Ctx) error {
		k := c.QueryInt("k", 3)
		paths, err := svc.AlternatePaths(c.Context(), c.Params("src"), c.Params("dst"), k)
		if err != nil {
			return pathError(c, err)
		}
		views := make([]fiber.Map, 0, len(paths))
		for _, p := range paths {
			views = append(views, fiber.Map{"devices": p.Devices, "weight": p.Weight})
		}
		return c.JSON(views)
	})

	app.Post("/communications/:src/:dst", func(c *fiber.Ctx) error {
		path, report, err := svc.EnableCommunication(c.Context(), c.Params("src"), c.Params("dst"))
		if err != nil {
			return pathError(c, err)
		}
		body := fiber.Map{
			"devices":   path.Devices,
			"weight":    path.Weight,
			"succeeded": len(report.Succeeded),
		}
		if !report.OK() {
			body["failedDevice"] = report.Failed.Installation.DeviceID
			body["failure"] = report.Failed.Err.Error()
			body["notAttempted"] = len(report.NotAttempted)
			return c.Status(fiber.StatusBadGateway).JSON(body)
		}
		return c.JSON(body)
	})

	app.Delete("/communications/:src/:dst", func(c *fiber.Ctx) error {
		removed, err := svc.DisableCommunication(c.Context(), c.Params("src"), c.Params("dst"))
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":   err.Error(),
				"removed": removed,
			})
		}
		return c.JSON(fiber.Map{"removed": removed})
	})

	app.Post("/communications", func(c *fiber.Ctx) error {
		result, err := svc.EnableAll(c.Context())
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(result)
	})

	app.Get("/pairs", func(c *fiber.Ctx) error {
		return c.JSON(svc.Pairs())
	})

	app.Post("/pairs", func(c *fiber.Ctx) error {
		var body struct {
			Src string `json:"src"`
			Dst string `json:"dst"`
		}
		if err := c.BodyParser(&body); err != nil || body.Src == "" || body.Dst == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "src and dst are required"})
		}
		svc.RegisterPair(body.Src, body.Dst)
		return c.SendStatus(fiber.StatusCreated)
	})

	app.Delete("/pairs/:src/:dst", func(c *fiber.Ctx) error {
		svc.UnregisterPair(c.Params("src"), c.Params("dst"))
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/devices/:id/flows", func(c *fiber.Ctx) error {
		rules, err := svc.InstalledRules(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(rules)
	})

	app.Delete("/devices/:id/flows", func(c *fiber.Ctx) error {
		removed, err := svc.ClearDeviceFlows(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":   err.Error(),
				"removed": removed,
			})
		}
		return c.JSON(fiber.Map{"removed": removed})
	})

	app.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(svc.Status(c.Context()))
	})
}

func pathError(c *fiber.Ctx, err error) error {
	var noPath *routing.NoPathError
	if errors.As(err, &noPath) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":     noPath.Error(),
			"distances": noPath.Distances,
		})
	}
	var unknownHost *service.UnknownHostError
	if errors.As(err, &unknownHost) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": unknownHost.Error()})
	}
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
}

func topologyView(g *topology.Graph) fiber.Map {
	devices := make([]fiber.Map, 0, g.DeviceCount())
	for _, id := range g.DeviceIDs() {
		d, _ := g.Device(id)
		devices = append(devices, fiber.Map{
			"id":    d.ID,
			"state": d.State.String(),
			"ports": d.Ports,
		})
	}
	links := make([]fiber.Map, 0, g.LinkCount())
	for _, l := range g.Links() {
		links = append(links, fiber.Map{
			"src":    fiber.Map{"device": l.SrcDevice, "port": l.SrcPort},
			"dst":    fiber.Map{"device": l.DstDevice, "port": l.DstPort},
			"weight": l.Weight,
		})
	}
	hosts := make([]fiber.Map, 0, g.HostCount())
	for _, h := range g.Hosts() {
		hosts = append(hosts, fiber.Map{
			"mac":    h.MAC,
			"ips":    h.IPs,
			"device": h.DeviceID,
			"port":   h.Port,
		})
	}
	return fiber.Map{"devices": devices, "links": links, "hosts": hosts}
}
