package order

import (
	"github.com/Additional-Code/fooddash/internal/dto"
	"github.com/Additional-Code/fooddash/internal/entity"
)

// toResponse maps the order row alone.
func toResponse(o *entity.Order) dto.OrderResponse {
	return dto.OrderResponse{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		RestaurantID:    o.RestaurantID,
		DriverID:        o.DriverID,
		Status:          o.Status.String(),
		TotalAmount:     o.TotalAmount,
		DeliveryFee:     o.DeliveryFee,
		DeliveryAddress: o.DeliveryAddress,
		DeliveryLat:     o.DeliveryLat,
		DeliveryLng:     o.DeliveryLng,
		Notes:           o.Notes,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

// assembleView hydrates the read model from an order loaded with its relations.
func assembleView(o *entity.Order) *dto.OrderView {
	view := &dto.OrderView{
		OrderResponse: toResponse(o),
		Items:         make([]dto.OrderItemResponse, 0, len(o.Items)),
		History:       toHistory(o.History),
	}
	if o.Restaurant != nil {
		view.Restaurant = &dto.RestaurantResponse{ID: o.Restaurant.ID, Name: o.Restaurant.Name}
	}
	if d := o.BoundDriver(); d != nil {
		view.Driver = &dto.DriverResponse{ID: d.ID, Name: d.Name}
	}
	for _, item := range o.Items {
		view.Items = append(view.Items, dto.OrderItemResponse{
			ID:         item.ID,
			MenuItemID: item.MenuItemID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Notes:      item.Notes,
		})
	}
	return view
}

func toHistory(rows []*entity.OrderStatusHistory) []dto.StatusHistoryResponse {
	out := make([]dto.StatusHistoryResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, dto.StatusHistoryResponse{
			Status:    row.Status.String(),
			ChangedBy: row.ChangedBy,
			Notes:     row.Notes,
			CreatedAt: row.CreatedAt,
		})
	}
	return out
}
